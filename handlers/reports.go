package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"gridwatch/metrics"
	"gridwatch/middleware"
	"gridwatch/models"
	"gridwatch/rabbitmq"
	"gridwatch/storage"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

// ListReports renders every report, newest first
func (h *Handlers) ListReports(c *gin.Context) {
	reports, err := h.Reports.List(c.Request.Context())
	if err != nil {
		storeError(c, err, "load reports")
		return
	}

	identity := middleware.Identity(c)
	views := make([]ReportView, 0, len(reports))
	for i := range reports {
		views = append(views, newReportView(&reports[i], identity))
	}
	c.JSON(http.StatusOK, gin.H{"reports": views, "count": len(views)})
}

// ReportsGeoJSON renders the feed as a GeoJSON FeatureCollection of points
func (h *Handlers) ReportsGeoJSON(c *gin.Context) {
	reports, err := h.Reports.List(c.Request.Context())
	if err != nil {
		storeError(c, err, "load reports")
		return
	}

	fc := geojson.NewFeatureCollection()
	for i := range reports {
		r := &reports[i]
		f := geojson.NewPointFeature([]float64{r.Location.Longitude, r.Location.Latitude})
		f.ID = r.ID
		f.SetProperty("title", r.DisplayTitle())
		f.SetProperty("severity", string(r.Severity))
		f.SetProperty("status", string(r.Status))
		f.SetProperty("address", r.Location.Address)
		f.SetProperty("created_at", r.CreatedAt)
		fc.AddFeature(f)
	}
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

// GetReport renders one report; can_edit is true for its owner
func (h *Handlers) GetReport(c *gin.Context) {
	report, err := h.Reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err, "load report")
		return
	}
	c.JSON(http.StatusOK, newReportView(report, middleware.Identity(c)))
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus changes the status of a report owned by the caller
func (h *Handlers) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "status is required"})
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	identity := middleware.Identity(c)
	report, err := h.Reports.UpdateStatus(c.Request.Context(), identity.UserID, c.Param("id"), status)
	if err != nil {
		storeError(c, err, "update status")
		return
	}
	h.announce(rabbitmq.EventUpdated, identity.UserID, report.ID, report)
	c.JSON(http.StatusOK, newReportView(report, identity))
}

// DeleteReport removes a report owned by the caller and sends the browser back to the list
func (h *Handlers) DeleteReport(c *gin.Context) {
	identity := middleware.Identity(c)
	id := c.Param("id")
	if err := h.Reports.Delete(c.Request.Context(), identity.UserID, id); err != nil {
		storeError(c, err, "delete report")
		return
	}
	h.announce(rabbitmq.EventDeleted, identity.UserID, id, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Report deleted", "redirect": "/"})
}

// validateFields checks the fields present in a create or update request
func validateFields(f *models.ReportFields, creating bool) string {
	if creating || f.Description != nil {
		if f.Description == nil || strings.TrimSpace(*f.Description) == "" {
			return "description is required"
		}
	}
	if creating || f.Location != nil {
		if f.Location == nil || !f.Location.Valid() {
			return "a valid location is required"
		}
	}
	if f.Severity != nil {
		s, err := models.ParseSeverity(string(*f.Severity))
		if err != nil {
			return err.Error()
		}
		f.Severity = &s
	}
	if f.Status != nil {
		if creating {
			f.Status = nil
		} else {
			s, err := models.ParseStatus(string(*f.Status))
			if err != nil {
				return err.Error()
			}
			f.Status = &s
		}
	}
	return ""
}

// CreateReport inserts a pending report owned by the caller
func (h *Handlers) CreateReport(c *gin.Context) {
	var fields models.ReportFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid report body"})
		return
	}
	if msg := validateFields(&fields, true); msg != "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: msg})
		return
	}

	identity := middleware.Identity(c)
	report, err := h.Reports.Create(c.Request.Context(), identity.UserID, fields)
	if err != nil {
		storeError(c, err, "create report")
		return
	}
	h.announce(rabbitmq.EventCreated, identity.UserID, report.ID, report)
	c.JSON(http.StatusCreated, newReportView(report, identity))
}

// UpdateReport changes the supplied fields of a report owned by the caller
func (h *Handlers) UpdateReport(c *gin.Context) {
	var fields models.ReportFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid report body"})
		return
	}
	if msg := validateFields(&fields, false); msg != "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: msg})
		return
	}

	identity := middleware.Identity(c)
	report, err := h.Reports.Update(c.Request.Context(), identity.UserID, c.Param("id"), fields)
	if err != nil {
		storeError(c, err, "update report")
		return
	}
	h.announce(rabbitmq.EventUpdated, identity.UserID, report.ID, report)
	c.JSON(http.StatusOK, newReportView(report, identity))
}

// readPhoto reads the "photo" multipart file within the size limit. The content type is
// sniffed from the bytes and must be a supported image.
func (h *Handlers) readPhoto(c *gin.Context) (name, contentType string, data []byte, status int, msg string) {
	file, err := c.FormFile("photo")
	if err != nil {
		return "", "", nil, http.StatusBadRequest, "photo file is required"
	}
	if file.Size > h.MaxPhotoBytes {
		return "", "", nil, http.StatusRequestEntityTooLarge, "photo is too large"
	}
	f, err := file.Open()
	if err != nil {
		return "", "", nil, http.StatusBadRequest, "failed to read photo"
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, h.MaxPhotoBytes+1))
	if err != nil {
		return "", "", nil, http.StatusBadRequest, "failed to read photo"
	}
	if int64(len(data)) > h.MaxPhotoBytes {
		return "", "", nil, http.StatusRequestEntityTooLarge, "photo is too large"
	}
	if len(data) == 0 {
		return "", "", nil, http.StatusBadRequest, "photo is empty"
	}
	contentType, ok := storage.DetectImage(data)
	if !ok {
		return "", "", nil, http.StatusUnsupportedMediaType, storage.ErrNotImage.Error()
	}
	return file.Filename, contentType, data, 0, ""
}

// UploadPhoto stores one photo in the public bucket and returns its URL
func (h *Handlers) UploadPhoto(c *gin.Context) {
	index, err := strconv.Atoi(c.DefaultPostForm("index", "0"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid photo index"})
		return
	}
	name, _, data, status, msg := h.readPhoto(c)
	if status != 0 {
		c.JSON(status, models.ErrorResponse{Error: msg})
		return
	}

	url, err := h.Bucket.UploadPhoto(c.Request.Context(), name, data, index)
	metrics.PhotoUploadsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("Failed to store photo")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to upload photo"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
