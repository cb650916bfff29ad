package workflow

import (
	"context"

	"gridwatch/models"
)

// Photo is a selected image waiting to be uploaded
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store is the report record store used by the workflow and the views
type Store interface {
	ListReports(ctx context.Context) ([]models.Report, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	CreateReport(ctx context.Context, fields models.ReportFields) (*models.Report, error)
	UpdateReport(ctx context.Context, id string, fields models.ReportFields) (*models.Report, error)
	DeleteReport(ctx context.Context, id string) error
	// UploadPhoto stores the photo and returns its public URL
	UploadPhoto(ctx context.Context, photo Photo, index int) (string, error)
}

// Sharer posts a submitted report to a social provider
type Sharer interface {
	Provider() models.Provider
	Share(ctx context.Context, identity *models.Identity, message string) error
}
