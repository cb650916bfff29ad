package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"gridwatch/middleware"
	"gridwatch/models"
	"gridwatch/rabbitmq"
	"gridwatch/workflow"

	"github.com/gin-gonic/gin"
)

// localStore is the in-process report store for wizards hosted by this server
type localStore struct {
	h      *Handlers
	userID string
}

func (s *localStore) ListReports(ctx context.Context) ([]models.Report, error) {
	return s.h.Reports.List(ctx)
}

func (s *localStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	return s.h.Reports.Get(ctx, id)
}

func (s *localStore) CreateReport(ctx context.Context, fields models.ReportFields) (*models.Report, error) {
	report, err := s.h.Reports.Create(ctx, s.userID, fields)
	if err != nil {
		return nil, err
	}
	s.h.announce(rabbitmq.EventCreated, s.userID, report.ID, report)
	return report, nil
}

func (s *localStore) UpdateReport(ctx context.Context, id string, fields models.ReportFields) (*models.Report, error) {
	report, err := s.h.Reports.Update(ctx, s.userID, id, fields)
	if err != nil {
		return nil, err
	}
	s.h.announce(rabbitmq.EventUpdated, s.userID, report.ID, report)
	return report, nil
}

func (s *localStore) DeleteReport(ctx context.Context, id string) error {
	if err := s.h.Reports.Delete(ctx, s.userID, id); err != nil {
		return err
	}
	s.h.announce(rabbitmq.EventDeleted, s.userID, id, nil)
	return nil
}

func (s *localStore) UploadPhoto(ctx context.Context, photo workflow.Photo, index int) (string, error) {
	return s.h.Bucket.UploadPhoto(ctx, photo.Name, photo.Data, index)
}

func (h *Handlers) workflowOptions() []workflow.Option {
	return []workflow.Option{
		workflow.WithSharers(h.Sharers...),
		workflow.WithMaxPhotos(h.MaxPhotos),
	}
}

func draftErrorStatus(err error) int {
	var (
		validation *workflow.ValidationError
		wrongStep  *workflow.WrongStepError
		submit     *workflow.SubmitError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &wrongStep), errors.Is(err, workflow.ErrFinished), errors.Is(err, workflow.ErrCancelled):
		return http.StatusConflict
	case errors.As(err, &submit):
		if submit.Kind == "auth-error" {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// respondDraft renders the draft; on err the view travels with the error
func respondDraft(c *gin.Context, status int, id string, wf *workflow.Workflow, err error) {
	view := wf.View()
	view.ID = id
	if err != nil {
		c.JSON(draftErrorStatus(err), gin.H{"error": err.Error(), "draft": view})
		return
	}
	c.JSON(status, view)
}

// draft looks up the caller's draft named by :id
func (h *Handlers) draft(c *gin.Context) (string, *workflow.Workflow, bool) {
	id := c.Param("id")
	wf, err := h.Drafts.Get(middleware.Identity(c).UserID, id)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Draft not found"})
		return "", nil, false
	}
	return id, wf, true
}

// CreateDraft starts a wizard for a new report
func (h *Handlers) CreateDraft(c *gin.Context) {
	identity := middleware.Identity(c)
	store := &localStore{h: h, userID: identity.UserID}
	wf := workflow.New(store, identity, h.workflowOptions()...)
	id := h.Drafts.Add(identity.UserID, wf)
	respondDraft(c, http.StatusCreated, id, wf, nil)
}

// EditDraft starts a wizard pre-filled from a report owned by the caller
func (h *Handlers) EditDraft(c *gin.Context) {
	identity := middleware.Identity(c)
	report, err := h.Reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err, "load report")
		return
	}

	store := &localStore{h: h, userID: identity.UserID}
	wf, err := workflow.Edit(store, identity, report, h.workflowOptions()...)
	if err != nil {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: err.Error()})
		return
	}
	id := h.Drafts.Add(identity.UserID, wf)
	respondDraft(c, http.StatusCreated, id, wf, nil)
}

// GetDraft renders a draft
func (h *Handlers) GetDraft(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	respondDraft(c, http.StatusOK, id, wf, nil)
}

// SetDraftLocation sets the location on the first step
func (h *Handlers) SetDraftLocation(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	var loc models.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid location body"})
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.SetLocation(loc))
}

type detailsRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
}

// SetDraftDetails sets title, description and severity on the second step
func (h *Handlers) SetDraftDetails(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid details body"})
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.SetDetails(req.Title, req.Description, req.Severity))
}

// AddDraftPhoto attaches an uploaded photo to the draft on the third step
func (h *Handlers) AddDraftPhoto(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	name, contentType, data, status, msg := h.readPhoto(c)
	if status != 0 {
		c.JSON(status, models.ErrorResponse{Error: msg})
		return
	}
	err := wf.AddPhoto(workflow.Photo{Name: name, ContentType: contentType, Data: data})
	respondDraft(c, http.StatusOK, id, wf, err)
}

// RemoveDraftPhoto drops the photo at :index
func (h *Handlers) RemoveDraftPhoto(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid photo index"})
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.RemovePhoto(index))
}

type shareRequest struct {
	Provider string `json:"provider" binding:"required"`
	Enabled  bool   `json:"enabled"`
}

// SetDraftShare opts in or out of a share side effect
func (h *Handlers) SetDraftShare(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "provider is required"})
		return
	}
	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.SetShare(provider, req.Enabled))
}

// NextDraftStep validates the current step and advances
func (h *Handlers) NextDraftStep(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.Next())
}

// PreviousDraftStep goes back one step; from the first step the draft is discarded
func (h *Handlers) PreviousDraftStep(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	err := wf.Back()
	if err == nil && wf.Cancelled() {
		h.Drafts.Remove(id)
		c.JSON(http.StatusOK, gin.H{"message": "Draft discarded", "redirect": "/"})
		return
	}
	respondDraft(c, http.StatusOK, id, wf, err)
}

// SubmitDraft uploads, persists and shares the report
func (h *Handlers) SubmitDraft(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	respondDraft(c, http.StatusOK, id, wf, wf.Submit(c.Request.Context()))
}

// CancelDraft discards a draft
func (h *Handlers) CancelDraft(c *gin.Context) {
	id, wf, ok := h.draft(c)
	if !ok {
		return
	}
	wf.Cancel()
	h.Drafts.Remove(id)
	c.JSON(http.StatusOK, gin.H{"message": "Draft discarded", "redirect": "/"})
}
