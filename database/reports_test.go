package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"gridwatch/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func newTestReportService() *ReportService {
	s := NewReportService(db)
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return "rep-1" }
	return s
}

var reportRowColumns = []string{"id", "title", "description", "severity", "status",
	"location_latitude", "location_longitude", "location_address", "image_urls", "user_id",
	"created_at", "updated_at"}

func strPtr(s string) *string { return &s }

func TestCreateReport(t *testing.T) {
	it(func() {
		s := newTestReportService()
		severity := models.SeverityCritical

		mock.ExpectExec("INSERT INTO reports").
			WithArgs("rep-1", "Downed line on Elm St", "Line is down across the road", "critical", "pending",
				42.1, -71.2, "Elm St", `["https://cdn/1.jpg"]`, "user-1", fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		r, err := s.Create(context.Background(), "user-1", models.ReportFields{
			Title:       strPtr("Downed line on Elm St"),
			Description: strPtr("Line is down across the road"),
			Severity:    &severity,
			Location:    &models.Location{Latitude: 42.1, Longitude: -71.2, Address: "Elm St"},
			ImageURLs:   []string{"https://cdn/1.jpg"},
		})
		require.NoError(t, err)
		assert.Equal(t, "rep-1", r.ID)
		assert.Equal(t, models.StatusPending, r.Status)
		assert.Equal(t, "user-1", r.UserID)
		assert.Equal(t, []string{"https://cdn/1.jpg"}, r.ImageURLs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateReportRequiresDescriptionAndLocation(t *testing.T) {
	it(func() {
		s := newTestReportService()

		_, err := s.Create(context.Background(), "user-1", models.ReportFields{
			Location: &models.Location{},
		})
		assert.Error(t, err)

		_, err = s.Create(context.Background(), "user-1", models.ReportFields{
			Description: strPtr("sparks"),
		})
		assert.Error(t, err)

		_, err = s.Create(context.Background(), "", models.ReportFields{
			Description: strPtr("sparks"),
			Location:    &models.Location{},
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetReport(t *testing.T) {
	it(func() {
		s := newTestReportService()
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+)").
			WithArgs("rep-1").
			WillReturnRows(sqlmock.NewRows(reportRowColumns).AddRow(
				"rep-1", "", "transformer humming loudly at night", "high", "in-progress",
				40.7, -74.0, "5th Ave", []byte(`["a","b"]`), "user-1", fixedNow, fixedNow))

		r, err := s.Get(context.Background(), "rep-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusUnderRepair, r.Status)
		assert.Equal(t, models.SeverityHigh, r.Severity)
		assert.Equal(t, []string{"a", "b"}, r.ImageURLs)
		assert.Equal(t, "Transformer humming loudly at", r.DisplayTitle())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetReportNotFound(t *testing.T) {
	it(func() {
		s := newTestReportService()
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+)").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(reportRowColumns))

		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListReportsNewestFirst(t *testing.T) {
	it(func() {
		s := newTestReportService()
		older := fixedNow.Add(-time.Hour)
		mock.ExpectQuery("SELECT (.+) FROM reports ORDER BY created_at DESC").
			WillReturnRows(sqlmock.NewRows(reportRowColumns).
				AddRow("new", "", "d1", "low", "pending", 1.0, 2.0, "", []byte(`[]`), "u", fixedNow, fixedNow).
				AddRow("old", "", "d2", "low", "repaired", 1.0, 2.0, "", []byte(`[]`), "u", older, older))

		reports, err := s.List(context.Background())
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, "new", reports[0].ID)
		assert.Equal(t, "old", reports[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateWithoutImagesKeepsStoredURLs(t *testing.T) {
	it(func() {
		s := newTestReportService()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE reports SET description = ?, updated_at = ? WHERE id = ? AND user_id = ?")).
			WithArgs("now with photos", fixedNow, "rep-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+)").
			WithArgs("rep-1").
			WillReturnRows(sqlmock.NewRows(reportRowColumns).AddRow(
				"rep-1", "t", "now with photos", "low", "pending", 1.0, 2.0, "", []byte(`["keep.jpg"]`),
				"user-1", fixedNow, fixedNow))

		r, err := s.Update(context.Background(), "user-1", "rep-1", models.ReportFields{
			Description: strPtr("now with photos"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"keep.jpg"}, r.ImageURLs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateByNonOwnerIsRejected(t *testing.T) {
	it(func() {
		s := newTestReportService()
		status := models.StatusRepaired
		mock.ExpectExec("UPDATE reports SET status = (.+) WHERE id = (.+) AND user_id = (.+)").
			WithArgs("repaired", fixedNow, "rep-1", "intruder").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT user_id FROM reports WHERE id = (.+)").
			WithArgs("rep-1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))

		_, err := s.UpdateStatus(context.Background(), "intruder", "rep-1", status)
		assert.ErrorIs(t, err, ErrNotOwner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteMissingReport(t *testing.T) {
	it(func() {
		s := newTestReportService()
		mock.ExpectExec("DELETE FROM reports WHERE id = (.+) AND user_id = (.+)").
			WithArgs("gone", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT user_id FROM reports WHERE id = (.+)").
			WithArgs("gone").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		err := s.Delete(context.Background(), "user-1", "gone")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteOwnReport(t *testing.T) {
	it(func() {
		s := newTestReportService()
		mock.ExpectExec("DELETE FROM reports WHERE id = (.+) AND user_id = (.+)").
			WithArgs("rep-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.Delete(context.Background(), "user-1", "rep-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
