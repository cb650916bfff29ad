package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gridwatch/database"
	"gridwatch/models"
	"gridwatch/rabbitmq"
	"gridwatch/storage"
	"gridwatch/websocket"
	"gridwatch/workflow"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// ReportStore persists reports and enforces ownership on mutations
type ReportStore interface {
	List(ctx context.Context) ([]models.Report, error)
	Get(ctx context.Context, id string) (*models.Report, error)
	Create(ctx context.Context, userID string, f models.ReportFields) (*models.Report, error)
	Update(ctx context.Context, userID, id string, f models.ReportFields) (*models.Report, error)
	UpdateStatus(ctx context.Context, userID, id string, status models.Status) (*models.Report, error)
	Delete(ctx context.Context, userID, id string) error
}

// Authenticator runs OAuth sign-in and sign-out
type Authenticator interface {
	Providers() []models.Provider
	SignIn(provider models.Provider) (string, error)
	Complete(ctx context.Context, provider models.Provider, state, code string) (*models.Identity, string, error)
	SignOut(ctx context.Context, identity *models.Identity) error
}

// Pinger checks the database connection
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handlers. Publisher and Hub are optional.
type Deps struct {
	Reports       ReportStore
	Auth          Authenticator
	Bucket        *storage.Bucket
	Drafts        *workflow.Registry
	Sharers       []workflow.Sharer
	Publisher     *rabbitmq.Publisher
	Hub           *websocket.Hub
	DB            Pinger
	MaxPhotos     int
	MaxPhotoBytes int64
	SessionTTL    time.Duration
	SecureCookies bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	Deps
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	if deps.MaxPhotos <= 0 {
		deps.MaxPhotos = workflow.DefaultMaxPhotos
	}
	if deps.MaxPhotoBytes <= 0 {
		deps.MaxPhotoBytes = 10 << 20
	}
	return &Handlers{Deps: deps}
}

// ReportView is a report as rendered by the list and detail views
type ReportView struct {
	models.Report
	DisplayTitle string `json:"display_title"`
	StatusLabel  string `json:"status_label"`
	CanEdit      bool   `json:"can_edit"`
}

func newReportView(r *models.Report, identity *models.Identity) ReportView {
	return ReportView{
		Report:       *r,
		DisplayTitle: r.DisplayTitle(),
		StatusLabel:  r.Status.DisplayName(),
		CanEdit:      identity.Owns(r),
	}
}

// announce tells the event bus and the live feed about a report change
func (h *Handlers) announce(event, userID, reportID string, report *models.Report) {
	h.Publisher.PublishReport(event, userID, reportID, report)
	if h.Hub != nil {
		h.Hub.BroadcastReport(event, reportID, report)
	}
}

// storeError maps persistence errors onto responses
func storeError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Report not found"})
	case errors.Is(err, database.ErrNotOwner):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: err.Error()})
	default:
		log.WithError(err).Errorf("Failed to %s", action)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to " + action})
	}
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	resp := gin.H{
		"status":  "healthy",
		"service": "gridwatch",
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			log.WithError(err).Warn("Health check database ping failed")
			status = http.StatusServiceUnavailable
			resp["status"] = "unhealthy"
			resp["database"] = err.Error()
		}
	}
	if h.Hub != nil {
		resp["feed_clients"] = h.Hub.ConnectedClients()
	}
	if h.Drafts != nil {
		resp["open_drafts"] = h.Drafts.Len()
	}
	c.JSON(status, resp)
}
