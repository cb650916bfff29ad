package workflow

import "gridwatch/models"

// PhotoView describes a selected photo without its bytes
type PhotoView struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// View is the rendered state of a workflow
type View struct {
	ID                string                   `json:"id,omitempty"`
	Mode              Mode                     `json:"mode"`
	State             string                   `json:"state"`
	Step              int                      `json:"step"`
	TotalSteps        int                      `json:"total_steps"`
	Progress          int                      `json:"progress"`
	Title             string                   `json:"title"`
	Description       string                   `json:"description"`
	Severity          models.Severity          `json:"severity"`
	Location          *models.Location         `json:"location"`
	Photos            []PhotoView              `json:"photos"`
	MaxPhotos         int                      `json:"max_photos"`
	ExistingImageURLs []string                 `json:"existing_image_urls,omitempty"`
	ShareOptions      []models.Provider        `json:"share_options"`
	Share             map[models.Provider]bool `json:"share"`
	Error             string                   `json:"error,omitempty"`
	Cancelled         bool                     `json:"cancelled"`
	ReportID          string                   `json:"report_id,omitempty"`
}

// View renders the workflow for display
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	d := w.copyDraft()
	v := View{
		Mode:              w.mode,
		State:             w.state.String(),
		Step:              w.state.Step(),
		TotalSteps:        totalSteps,
		Progress:          w.state.Progress(),
		Title:             d.Title,
		Description:       d.Description,
		Severity:          d.Severity,
		Location:          d.Location,
		Photos:            make([]PhotoView, 0, len(d.Photos)),
		MaxPhotos:         w.maxPhotos,
		ExistingImageURLs: d.ExistingImageURLs,
		ShareOptions:      w.shareOptions(),
		Share:             d.Share,
		Cancelled:         w.cancelled,
		ReportID:          w.reportID,
	}
	for _, p := range d.Photos {
		v.Photos = append(v.Photos, PhotoView{Name: p.Name, ContentType: p.ContentType, Size: len(p.Data)})
	}
	if w.err != nil {
		v.Error = w.err.Error()
	}
	return v
}
