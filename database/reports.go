package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gridwatch/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no report has the requested id
	ErrNotFound = errors.New("report not found")
	// ErrNotOwner is returned when the caller does not own the report being mutated
	ErrNotOwner = errors.New("only the owner of a report may change it")
)

const reportColumns = `id, title, description, severity, status, location_latitude, location_longitude,
	location_address, image_urls, user_id, created_at, updated_at`

// ReportService handles all report persistence
type ReportService struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewReportService creates a new report service instance
func NewReportService(db *sql.DB) *ReportService {
	return &ReportService{
		db:    db,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID: func() string { return uuid.NewString() },
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		r         models.Report
		severity  string
		status    string
		imageURLs []byte
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &severity, &status,
		&r.Location.Latitude, &r.Location.Longitude, &r.Location.Address,
		&imageURLs, &r.UserID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.Severity = models.Severity(severity)
	if parsed, err := models.ParseStatus(status); err == nil {
		r.Status = parsed
	} else {
		log.Warnf("Report %s has unrecognised status %q", r.ID, status)
		r.Status = models.Status(status)
	}

	r.ImageURLs = []string{}
	if len(imageURLs) > 0 {
		if err := json.Unmarshal(imageURLs, &r.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to decode image urls of report %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// List returns every report, newest first
func (s *ReportService) List(ctx context.Context) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM reports ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

// Get returns one report
func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return r, nil
}

// Create inserts a new pending report owned by userID
func (s *ReportService) Create(ctx context.Context, userID string, f models.ReportFields) (*models.Report, error) {
	if userID == "" {
		return nil, errors.New("a report needs an owner")
	}
	if f.Description == nil || strings.TrimSpace(*f.Description) == "" {
		return nil, errors.New("description is required")
	}
	if f.Location == nil {
		return nil, errors.New("location is required")
	}

	now := s.now()
	r := &models.Report{
		ID:          s.newID(),
		Description: *f.Description,
		Severity:    models.SeverityMedium,
		Status:      models.StatusPending,
		Location:    *f.Location,
		ImageURLs:   []string{},
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if f.Title != nil {
		r.Title = *f.Title
	}
	if f.Severity != nil {
		r.Severity = *f.Severity
	}
	if f.ImageURLs != nil {
		r.ImageURLs = append(r.ImageURLs, f.ImageURLs...)
	}

	imageURLs, err := json.Marshal(r.ImageURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image urls: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO reports
		(id, title, description, severity, status, location_latitude, location_longitude,
		 location_address, image_urls, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Description, string(r.Severity), string(r.Status),
		r.Location.Latitude, r.Location.Longitude, r.Location.Address,
		string(imageURLs), r.UserID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	log.WithFields(log.Fields{"report": r.ID, "user": userID}).Info("Report created")
	return r, nil
}

// Update applies the non-nil fields to a report owned by userID and returns the stored result
func (s *ReportService) Update(ctx context.Context, userID, id string, f models.ReportFields) (*models.Report, error) {
	updates := []string{}
	args := []interface{}{}

	if f.Title != nil {
		updates = append(updates, "title = ?")
		args = append(args, *f.Title)
	}
	if f.Description != nil {
		if strings.TrimSpace(*f.Description) == "" {
			return nil, errors.New("description is required")
		}
		updates = append(updates, "description = ?")
		args = append(args, *f.Description)
	}
	if f.Severity != nil {
		updates = append(updates, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.Status != nil {
		updates = append(updates, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Location != nil {
		updates = append(updates, "location_latitude = ?", "location_longitude = ?", "location_address = ?")
		args = append(args, f.Location.Latitude, f.Location.Longitude, f.Location.Address)
	}
	if f.ImageURLs != nil {
		imageURLs, err := json.Marshal(f.ImageURLs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode image urls: %w", err)
		}
		updates = append(updates, "image_urls = ?")
		args = append(args, string(imageURLs))
	}

	updates = append(updates, "updated_at = ?")
	args = append(args, s.now(), id, userID)

	query := fmt.Sprintf("UPDATE reports SET %s WHERE id = ? AND user_id = ?", strings.Join(updates, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	if err := s.checkAffected(ctx, result, id); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"report": id, "user": userID}).Info("Report updated")
	return s.Get(ctx, id)
}

// UpdateStatus changes only the status of a report owned by userID
func (s *ReportService) UpdateStatus(ctx context.Context, userID, id string, status models.Status) (*models.Report, error) {
	return s.Update(ctx, userID, id, models.ReportFields{Status: &status})
}

// Delete removes a report owned by userID
func (s *ReportService) Delete(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if err := s.checkAffected(ctx, result, id); err != nil {
		return err
	}

	log.WithFields(log.Fields{"report": id, "user": userID}).Info("Report deleted")
	return nil
}

// checkAffected tells a missing report apart from one owned by somebody else
func (s *ReportService) checkAffected(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var owner string
	err = s.db.QueryRowContext(ctx, "SELECT user_id FROM reports WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check report owner: %w", err)
	}
	return ErrNotOwner
}
