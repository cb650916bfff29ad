package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gridwatch/metrics"
	"gridwatch/models"
	"gridwatch/storage"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPhotos is the photo limit of a draft
const DefaultMaxPhotos = 5

const totalSteps = 3

var (
	// ErrFinished is returned for any action on a submitted workflow
	ErrFinished = errors.New("report has already been submitted")
	// ErrCancelled is returned for any action on a cancelled workflow
	ErrCancelled = errors.New("report was cancelled")
	// ErrSignedOut is returned when submitting without an identity
	ErrSignedOut = errors.New("you must be signed in to submit a report")
	// ErrNotOwner is returned when editing a report owned by someone else
	ErrNotOwner = errors.New("only the owner of a report may edit it")
)

// State is a wizard step
type State int

const (
	StateLocation State = iota
	StateDetails
	StatePhotos
	StateDone
)

func (s State) String() string {
	switch s {
	case StateLocation:
		return "location"
	case StateDetails:
		return "details"
	case StatePhotos:
		return "photos"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Step is the 1-based step number shown to the user; Done counts as step 4
func (s State) Step() int {
	return int(s) + 1
}

// Progress is the percentage shown in the progress bar
func (s State) Progress() int {
	return min(s.Step(), totalSteps) * 100 / totalSteps
}

// Mode tells whether the workflow creates a new report or edits one
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// ValidationError blocks a step transition until the user corrects the input
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SubmitError is a failed submission; the draft is kept so the user may retry
type SubmitError struct {
	Kind string
	Err  error
}

func (e *SubmitError) Error() string { return e.Err.Error() }

func (e *SubmitError) Unwrap() error { return e.Err }

// WrongStepError is returned when a field is changed outside the step that owns it
type WrongStepError struct {
	Field string
	State State
}

func (e *WrongStepError) Error() string {
	return fmt.Sprintf("%s cannot be changed on the %s step", e.Field, e.State)
}

// Draft is the unpersisted report being assembled
type Draft struct {
	Title       string
	Description string
	Severity    models.Severity
	Location    *models.Location
	Photos      []Photo
	Share       map[models.Provider]bool
	// ReportID and ExistingImageURLs are set in edit mode
	ReportID          string
	ExistingImageURLs []string
}

// Option configures a Workflow
type Option func(*Workflow)

// WithSharers sets the share side effects in the order they run
func WithSharers(sharers ...Sharer) Option {
	return func(w *Workflow) { w.sharers = sharers }
}

// WithMaxPhotos overrides the photo limit
func WithMaxPhotos(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxPhotos = n
		}
	}
}

// Workflow is one run of the report wizard. Methods are safe for concurrent use
// and run one at a time.
type Workflow struct {
	mu sync.Mutex

	store     Store
	identity  *models.Identity
	sharers   []Sharer
	maxPhotos int
	mode      Mode

	state     State
	draft     Draft
	err       error
	cancelled bool
	reportID  string
}

// New starts a workflow that creates a report
func New(store Store, identity *models.Identity, opts ...Option) *Workflow {
	w := &Workflow{
		store:     store,
		identity:  identity,
		maxPhotos: DefaultMaxPhotos,
		mode:      ModeCreate,
		state:     StateLocation,
		draft: Draft{
			Severity: models.SeverityMedium,
			Share:    map[models.Provider]bool{},
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Edit starts a workflow that updates report. Photos start empty; the report's
// image URLs are kept unless new photos are submitted.
func Edit(store Store, identity *models.Identity, report *models.Report, opts ...Option) (*Workflow, error) {
	if !identity.Owns(report) {
		return nil, ErrNotOwner
	}
	w := New(store, identity, opts...)
	w.mode = ModeEdit

	loc := report.Location
	w.draft.Title = report.Title
	w.draft.Description = report.Description
	if report.Severity != "" {
		w.draft.Severity = report.Severity
	}
	w.draft.Location = &loc
	w.draft.ReportID = report.ID
	w.draft.ExistingImageURLs = append([]string(nil), report.ImageURLs...)
	return w, nil
}

func (w *Workflow) checkActive() error {
	if w.cancelled {
		return ErrCancelled
	}
	if w.state == StateDone {
		return ErrFinished
	}
	return nil
}

func (w *Workflow) checkField(field string, owner State) error {
	if err := w.checkActive(); err != nil {
		return err
	}
	if w.state != owner {
		return &WrongStepError{Field: field, State: w.state}
	}
	return nil
}

// SetLocation sets the hazard location
func (w *Workflow) SetLocation(loc models.Location) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkField("location", StateLocation); err != nil {
		return err
	}
	if !loc.Valid() {
		return &ValidationError{Message: "Please select a valid location"}
	}
	w.draft.Location = &loc
	return nil
}

// SetDetails sets the title, description and severity
func (w *Workflow) SetDetails(title, description string, severity models.Severity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkField("details", StateDetails); err != nil {
		return err
	}
	if severity != "" {
		parsed, err := models.ParseSeverity(string(severity))
		if err != nil {
			return &ValidationError{Message: "Please choose a severity of low, medium, high or critical"}
		}
		w.draft.Severity = parsed
	}
	w.draft.Title = title
	w.draft.Description = description
	return nil
}

// AddPhoto appends a photo to the draft. Its content type is taken from the bytes.
func (w *Workflow) AddPhoto(p Photo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkField("photos", StatePhotos); err != nil {
		return err
	}
	if len(w.draft.Photos) >= w.maxPhotos {
		return &ValidationError{Message: fmt.Sprintf("You can only upload a maximum of %d photos.", w.maxPhotos)}
	}
	if len(p.Data) == 0 {
		return &ValidationError{Message: "Photo is empty"}
	}
	contentType, ok := storage.DetectImage(p.Data)
	if !ok {
		return &ValidationError{Message: "Please choose a JPEG, PNG, GIF or WebP photo"}
	}
	p.ContentType = contentType
	w.draft.Photos = append(w.draft.Photos, p)
	return nil
}

// RemovePhoto drops the photo at index i
func (w *Workflow) RemovePhoto(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkField("photos", StatePhotos); err != nil {
		return err
	}
	if i < 0 || i >= len(w.draft.Photos) {
		return &ValidationError{Message: fmt.Sprintf("No photo at position %d", i)}
	}
	w.draft.Photos = append(w.draft.Photos[:i], w.draft.Photos[i+1:]...)
	return nil
}

// SetShare turns a share side effect on or off
func (w *Workflow) SetShare(provider models.Provider, enabled bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkField("share options", StatePhotos); err != nil {
		return err
	}
	if !w.offers(provider) {
		return &ValidationError{Message: fmt.Sprintf("Sharing to %s is not available for this sign-in", provider)}
	}
	w.draft.Share[provider] = enabled
	return nil
}

// offers reports whether a sharer exists for p and the identity may use it
func (w *Workflow) offers(p models.Provider) bool {
	if w.identity == nil || !w.identity.Capabilities.Has(p) {
		return false
	}
	for _, s := range w.sharers {
		if s.Provider() == p {
			return true
		}
	}
	return false
}

// ShareOptions lists the providers the user may opt in to
func (w *Workflow) ShareOptions() []models.Provider {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shareOptions()
}

func (w *Workflow) shareOptions() []models.Provider {
	var out []models.Provider
	for _, s := range w.sharers {
		if w.offers(s.Provider()) {
			out = append(out, s.Provider())
		}
	}
	return out
}

// Next validates the current step and moves forward. A *ValidationError keeps the state.
func (w *Workflow) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkActive(); err != nil {
		return err
	}

	switch w.state {
	case StateLocation:
		if w.draft.Location == nil {
			return w.fail(&ValidationError{Message: "Please select a location"})
		}
	case StateDetails:
		if strings.TrimSpace(w.draft.Title) == "" || strings.TrimSpace(w.draft.Description) == "" {
			return w.fail(&ValidationError{Message: "Please provide both a title and description of the issue"})
		}
	case StatePhotos:
		return w.fail(&ValidationError{Message: "Submit the report to finish"})
	}

	w.err = nil
	w.state++
	return nil
}

// Back moves one step backward and clears the pending error. From the first step it cancels the workflow.
func (w *Workflow) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkActive(); err != nil {
		return err
	}

	w.err = nil
	if w.state == StateLocation {
		w.cancelled = true
		w.draft = Draft{}
		return nil
	}
	w.state--
	return nil
}

// Cancel abandons the workflow and discards the draft
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateDone {
		return
	}
	w.cancelled = true
	w.draft = Draft{}
}

func (w *Workflow) fail(err error) error {
	w.err = err
	return err
}

// Submit uploads the photos, persists the draft and runs the enabled share side
// effects. On failure the workflow stays on the photos step with the draft intact.
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkActive(); err != nil {
		return err
	}
	if w.state != StatePhotos {
		return w.fail(&ValidationError{Message: "Complete every step before submitting"})
	}
	if w.identity == nil {
		return w.fail(&SubmitError{Kind: "auth-error", Err: ErrSignedOut})
	}
	w.err = nil

	logger := log.WithFields(log.Fields{"user_id": w.identity.UserID, "mode": w.mode})

	urls, err := w.uploadPhotos(ctx)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(w.mode), "error").Inc()
		logger.WithError(err).Error("Photo upload failed")
		return w.fail(&SubmitError{Kind: "store-error", Err: err})
	}

	report, err := w.persist(ctx, urls)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(w.mode), "error").Inc()
		logger.WithError(err).Error("Failed to save report")
		return w.fail(&SubmitError{Kind: "store-error", Err: err})
	}
	metrics.SubmissionsTotal.WithLabelValues(string(w.mode), "success").Inc()
	logger.WithField("report_id", report.ID).Info("Report submitted")

	w.share(ctx, report.ID)

	w.reportID = report.ID
	w.state = StateDone
	w.draft.Photos = nil
	return nil
}

// uploadPhotos uploads every photo concurrently and returns the URLs in selection order
func (w *Workflow) uploadPhotos(ctx context.Context) ([]string, error) {
	photos := w.draft.Photos
	if len(photos) == 0 {
		return nil, nil
	}

	urls := make([]string, len(photos))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range photos {
		i, p := i, p
		g.Go(func() error {
			url, err := w.store.UploadPhoto(gctx, p, i)
			metrics.PhotoUploadsTotal.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (w *Workflow) persist(ctx context.Context, urls []string) (*models.Report, error) {
	title := w.draft.Title
	description := w.draft.Description
	severity := w.draft.Severity
	fields := models.ReportFields{
		Title:       &title,
		Description: &description,
		Severity:    &severity,
		Location:    w.draft.Location,
	}

	if w.mode == ModeEdit {
		if len(urls) > 0 {
			fields.ImageURLs = urls
		}
		return w.store.UpdateReport(ctx, w.draft.ReportID, fields)
	}

	fields.ImageURLs = urls
	if fields.ImageURLs == nil {
		fields.ImageURLs = []string{}
	}
	return w.store.CreateReport(ctx, fields)
}

// share runs the enabled side effects one after another; failures are logged only
func (w *Workflow) share(ctx context.Context, reportID string) {
	message := FormatShareMessage(w.draft, reportID)
	for _, s := range w.sharers {
		p := s.Provider()
		if !w.draft.Share[p] || !w.offers(p) {
			continue
		}
		err := s.Share(ctx, w.identity, message)
		metrics.SharesTotal.WithLabelValues(string(p), metrics.Result(err)).Inc()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"provider": p, "report_id": reportID}).Warn("Failed to share report")
		}
	}
}

// FormatShareMessage builds the text posted to social providers
func FormatShareMessage(d Draft, reportID string) string {
	address := ""
	if d.Location != nil {
		address = d.Location.Address
	}
	return fmt.Sprintf("🚨 Electrical Infrastructure Issue Reported\n\nTitle: %s\nSeverity: %s\nLocation: %s\n\nReport ID: %s\n\n#ElectricalSafety #InfrastructureReport",
		d.Title, strings.ToUpper(string(d.Severity)), address, reportID)
}

// State returns the current step
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Mode returns whether the workflow creates or edits
func (w *Workflow) Mode() Mode {
	return w.mode
}

// Cancelled reports whether the workflow was abandoned
func (w *Workflow) Cancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

// ReportID is the persisted record id once Done
func (w *Workflow) ReportID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reportID
}

// Err is the pending error shown to the user, if any
func (w *Workflow) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Draft returns a copy of the draft
func (w *Workflow) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.copyDraft()
}

func (w *Workflow) copyDraft() Draft {
	d := w.draft
	d.Photos = append([]Photo(nil), w.draft.Photos...)
	d.ExistingImageURLs = append([]string(nil), w.draft.ExistingImageURLs...)
	d.Share = make(map[models.Provider]bool, len(w.draft.Share))
	for k, v := range w.draft.Share {
		d.Share[k] = v
	}
	if w.draft.Location != nil {
		loc := *w.draft.Location
		d.Location = &loc
	}
	return d
}
