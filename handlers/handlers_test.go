package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gridwatch/database"
	"gridwatch/models"
	"gridwatch/storage"
	"gridwatch/workflow"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReports struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	next    int
	clock   time.Time
}

func newMemReports() *memReports {
	return &memReports{reports: map[string]*models.Report{}, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memReports) put(r models.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = &r
}

func (m *memReports) List(ctx context.Context) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memReports) Get(ctx context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memReports) Create(ctx context.Context, userID string, f models.ReportFields) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.clock = m.clock.Add(time.Minute)
	r := &models.Report{
		ID: fmt.Sprintf("rep-%d", m.next), Description: *f.Description, Severity: models.SeverityMedium,
		Status: models.StatusPending, Location: *f.Location, ImageURLs: []string{}, UserID: userID,
		CreatedAt: m.clock, UpdatedAt: m.clock,
	}
	if f.Title != nil {
		r.Title = *f.Title
	}
	if f.Severity != nil {
		r.Severity = *f.Severity
	}
	if f.ImageURLs != nil {
		r.ImageURLs = f.ImageURLs
	}
	m.reports[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *memReports) owned(userID, id string) (*models.Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if r.UserID != userID {
		return nil, database.ErrNotOwner
	}
	return r, nil
}

func (m *memReports) Update(ctx context.Context, userID, id string, f models.ReportFields) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.owned(userID, id)
	if err != nil {
		return nil, err
	}
	if f.Title != nil {
		r.Title = *f.Title
	}
	if f.Description != nil {
		r.Description = *f.Description
	}
	if f.Status != nil {
		r.Status = *f.Status
	}
	if f.ImageURLs != nil {
		r.ImageURLs = f.ImageURLs
	}
	cp := *r
	return &cp, nil
}

func (m *memReports) UpdateStatus(ctx context.Context, userID, id string, status models.Status) (*models.Report, error) {
	return m.Update(ctx, userID, id, models.ReportFields{Status: &status})
}

func (m *memReports) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, id); err != nil {
		return err
	}
	delete(m.reports, id)
	return nil
}

type fakeAuth struct {
	signedOut []string
}

func (f *fakeAuth) Providers() []models.Provider {
	return []models.Provider{models.ProviderGoogle, models.ProviderTwitter}
}

func (f *fakeAuth) SignIn(p models.Provider) (string, error) {
	if p != models.ProviderGoogle && p != models.ProviderTwitter {
		return "", errors.New("sign-in provider is not configured")
	}
	return "https://accounts.test/authorize?provider=" + string(p), nil
}

func (f *fakeAuth) Complete(ctx context.Context, p models.Provider, state, code string) (*models.Identity, string, error) {
	if code != "good" {
		return nil, "", errors.New("oauth2: \"invalid_grant\"")
	}
	return identities["alice-token"], "alice-token", nil
}

func (f *fakeAuth) SignOut(ctx context.Context, identity *models.Identity) error {
	f.signedOut = append(f.signedOut, identity.UserID)
	return nil
}

var identities = map[string]*models.Identity{
	"alice-token": {UserID: "alice", Provider: models.ProviderGoogle, SessionID: "s1", Capabilities: models.NewCapabilitySet()},
	"bob-token":   {UserID: "bob", Provider: models.ProviderTwitter, SessionID: "s2", Capabilities: models.NewCapabilitySet(models.ProviderTwitter)},
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	if identity, ok := identities[token]; ok {
		return identity, nil
	}
	return nil, errors.New("invalid session token")
}

type relayStub struct{}

func (relayStub) Post(ctx context.Context, text, token string) (json.RawMessage, error) {
	return json.RawMessage(`{"data":{"id":"1"}}`), nil
}

type testEnv struct {
	router  *gin.Engine
	reports *memReports
	auth    *fakeAuth
	drafts  *workflow.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	bucket, err := storage.NewBucket(t.TempDir(), "report-images", "http://localhost:8080", 1600)
	require.NoError(t, err)

	env := &testEnv{reports: newMemReports(), auth: &fakeAuth{}, drafts: workflow.NewRegistry(time.Hour)}
	h := NewHandlers(Deps{
		Reports:    env.reports,
		Auth:       env.auth,
		Bucket:     bucket,
		Drafts:     env.drafts,
		SessionTTL: time.Hour,
	})
	env.router = SetupRouter(h, RouterConfig{Resolver: fakeResolver{}, Relay: relayStub{}})
	return env
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(path, token, filename string, data []byte) *httptest.ResponseRecorder {
	return e.uploadForm(path, token, filename, data, nil)
}

func (e *testEnv) uploadForm(path, token, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	part, _ := mw.CreateFormFile("photo", filename)
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

var elm = models.Location{Latitude: 40.71, Longitude: -74.0, Address: "12 Elm St"}

func seed(env *testEnv) {
	env.reports.put(models.Report{ID: "old", Description: "sparking transformer behind the school gym", Severity: models.SeverityHigh,
		Status: models.StatusUnderRepair, Location: elm, UserID: "alice", ImageURLs: []string{"http://cdn/keep.jpg"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	env.reports.put(models.Report{ID: "new", Title: "Leaning pole", Description: "pole", Severity: models.SeverityLow,
		Status: models.StatusPending, Location: elm, UserID: "bob", CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
}

func TestListReportsNewestFirstWithDisplayTitles(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	w := env.do(http.MethodGet, "/api/v1/reports", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reports []ReportView `json:"reports"`
		Count   int          `json:"count"`
	}
	decode(t, w, &resp)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "new", resp.Reports[0].ID)
	assert.Equal(t, "Leaning pole", resp.Reports[0].DisplayTitle)
	assert.Equal(t, "Sparking transformer behind the", resp.Reports[1].DisplayTitle)
	assert.Equal(t, "Under Repair", resp.Reports[1].StatusLabel)
	assert.False(t, resp.Reports[1].CanEdit)
}

func TestReportsGeoJSON(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	w := env.do(http.MethodGet, "/api/v1/reports.geojson", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string                 `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	decode(t, w, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-74.0, 40.71}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Leaning pole", fc.Features[0].Properties["title"])
}

func TestGetReportCanEditOnlyForOwner(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	var view ReportView
	w := env.do(http.MethodGet, "/api/v1/reports/old", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	assert.True(t, view.CanEdit)

	w = env.do(http.MethodGet, "/api/v1/reports/old", "bob-token", nil)
	decode(t, w, &view)
	assert.False(t, view.CanEdit)

	w = env.do(http.MethodGet, "/api/v1/reports/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatusOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	w := env.do(http.MethodPatch, "/api/v1/reports/old/status", "", map[string]string{"status": "repaired"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPatch, "/api/v1/reports/old/status", "bob-token", map[string]string{"status": "repaired"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	stored, _ := env.reports.Get(context.Background(), "old")
	assert.Equal(t, models.StatusUnderRepair, stored.Status)

	w = env.do(http.MethodPatch, "/api/v1/reports/old/status", "alice-token", map[string]string{"status": "fixed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPatch, "/api/v1/reports/old/status", "alice-token", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	var view ReportView
	decode(t, w, &view)
	assert.Equal(t, models.StatusRepaired, view.Status)
}

func TestDeleteReportRedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	w := env.do(http.MethodDelete, "/api/v1/reports/old", "bob-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/reports/old", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Report deleted","redirect":"/"}`, w.Body.String())
	_, err := env.reports.Get(context.Background(), "old")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCreateAndUpdateReportDirectly(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/reports", "alice-token", map[string]interface{}{"title": "No description"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/reports", "alice-token", map[string]interface{}{
		"title": "Downed line", "description": "Line across road", "severity": "critical",
		"status": "repaired", "location": elm,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created ReportView
	decode(t, w, &created)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "alice", created.UserID)

	w = env.do(http.MethodPut, "/api/v1/reports/"+created.ID, "bob-token", map[string]string{"description": "hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPut, "/api/v1/reports/"+created.ID, "alice-token", map[string]string{"description": "Line across Elm"})
	require.Equal(t, http.StatusOK, w.Code)
	stored, _ := env.reports.Get(context.Background(), created.ID)
	assert.Equal(t, "Line across Elm", stored.Description)
	assert.Equal(t, "Downed line", stored.Title)
}

func TestUploadPhotoIsServedFromBucket(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload("/api/v1/photos", "alice-token", "pole.png", pngBytes(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		URL string `json:"url"`
	}
	decode(t, w, &resp)
	assert.Regexp(t, `^http://localhost:8080/storage/report-images/reports/\d+-0\.png$`, resp.URL)

	path := strings.TrimPrefix(resp.URL, "http://localhost:8080")
	w = env.do(http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngBytes(t), w.Body.Bytes())

	w = env.do(http.MethodGet, "/storage/other-bucket/reports/x.png", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.upload("/api/v1/photos", "alice-token", "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadNamedAsHTMLIsServedAsImage(t *testing.T) {
	env := newTestEnv(t)
	payload := append(pngBytes(t), []byte("<script>alert(document.cookie)</script>")...)

	w := env.upload("/api/v1/photos", "alice-token", "x.html", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		URL string `json:"url"`
	}
	decode(t, w, &resp)
	assert.True(t, strings.HasSuffix(resp.URL, ".png"), resp.URL)

	w = env.do(http.MethodGet, strings.TrimPrefix(resp.URL, "http://localhost:8080"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "inline", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = env.upload("/api/v1/photos", "alice-token", "x.png", []byte("<html><script>alert(1)</script></html>"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadPhotoRejectsBadIndex(t *testing.T) {
	env := newTestEnv(t)
	for _, index := range []string{"-3", "abc"} {
		w := env.uploadForm("/api/v1/photos", "alice-token", "pole.png", pngBytes(t), map[string]string{"index": index})
		assert.Equal(t, http.StatusBadRequest, w.Code, index)
	}

	w := env.uploadForm("/api/v1/photos", "alice-token", "pole.png", pngBytes(t), map[string]string{"index": "2"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Regexp(t, `-2\.png"`, w.Body.String())
}

func TestDraftPhotoMustBeAnImage(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/v1/drafts", "alice-token", nil)
	var view workflow.View
	decode(t, w, &view)
	id := view.ID
	env.do(http.MethodPut, "/api/v1/drafts/"+id+"/location", "alice-token", elm)
	env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	env.do(http.MethodPut, "/api/v1/drafts/"+id+"/details", "alice-token", map[string]string{"title": "t", "description": "d"})
	env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)

	w = env.upload("/api/v1/drafts/"+id+"/photos", "alice-token", "line.jpg", []byte("<html><script>alert(1)</script></html>"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = env.do(http.MethodGet, "/api/v1/drafts/"+id, "alice-token", nil)
	decode(t, w, &view)
	assert.Equal(t, "photos", view.State)
	assert.Empty(t, view.Photos)
}

func TestRouterAnswersAPIPreflights(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bucket, err := storage.NewBucket(t.TempDir(), "report-images", "http://localhost:8080", 0)
	require.NoError(t, err)
	h := NewHandlers(Deps{Reports: newMemReports(), Auth: &fakeAuth{}, Bucket: bucket, Drafts: workflow.NewRegistry(time.Hour)})
	router := SetupRouter(h, RouterConfig{
		Resolver:       fakeResolver{},
		Relay:          relayStub{},
		AllowedOrigins: []string{"https://app.example.com"},
	})

	preflight := func(path, method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", method)
		req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for _, tt := range []struct{ path, method string }{
		{"/api/v1/reports", http.MethodPost},
		{"/api/v1/drafts", http.MethodPost},
		{"/api/v1/reports/abc/status", http.MethodPatch},
		{"/api/v1/reports/abc", http.MethodDelete},
	} {
		w := preflight(tt.path, tt.method)
		assert.Equal(t, http.StatusNoContent, w.Code, tt.path)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"), tt.path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("/functions/post-to-twitter", http.MethodPost)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWizardDownedLineOnElmStreet(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/drafts", "alice-token", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var view workflow.View
	decode(t, w, &view)
	id := view.ID
	assert.Equal(t, "location", view.State)
	assert.Equal(t, 33, view.Progress)
	assert.Empty(t, view.ShareOptions)

	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Please select a location")

	w = env.do(http.MethodPut, "/api/v1/drafts/"+id+"/location", "alice-token", elm)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPut, "/api/v1/drafts/"+id+"/details", "alice-token", map[string]string{
		"title": "Downed line on Elm St", "description": "Power line down across the sidewalk", "severity": "critical",
	})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.upload("/api/v1/drafts/"+id+"/photos", "alice-token", "line.png", pngBytes(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &view)
	require.Len(t, view.Photos, 1)

	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/submit", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &view)
	assert.Equal(t, "done", view.State)
	require.NotEmpty(t, view.ReportID)

	stored, err := env.reports.Get(context.Background(), view.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "Downed line on Elm St", stored.Title)
	assert.Equal(t, models.SeverityCritical, stored.Severity)
	assert.Len(t, stored.ImageURLs, 1)

	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/back", "alice-token", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWizardEditKeepsImages(t *testing.T) {
	env := newTestEnv(t)
	seed(env)

	w := env.do(http.MethodPost, "/api/v1/reports/old/drafts", "bob-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/v1/reports/old/drafts", "alice-token", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var view workflow.View
	decode(t, w, &view)
	id := view.ID
	assert.Equal(t, "edit", string(view.Mode))

	env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	env.do(http.MethodPut, "/api/v1/drafts/"+id+"/details", "alice-token", map[string]string{
		"title": "Sparking transformer", "description": "Now smoking too",
	})
	env.do(http.MethodPost, "/api/v1/drafts/"+id+"/next", "alice-token", nil)
	w = env.do(http.MethodPost, "/api/v1/drafts/"+id+"/submit", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, _ := env.reports.Get(context.Background(), "old")
	assert.Equal(t, "Now smoking too", stored.Description)
	assert.Equal(t, []string{"http://cdn/keep.jpg"}, stored.ImageURLs)
}

func TestDraftsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/v1/drafts", "alice-token", nil)
	var view workflow.View
	decode(t, w, &view)

	w = env.do(http.MethodGet, "/api/v1/drafts/"+view.ID, "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/drafts/"+view.ID+"/back", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redirect":"/"`)
	assert.Equal(t, 0, env.drafts.Len())
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/auth/providers", "", nil)
	assert.JSONEq(t, `{"providers":["google","twitter"]}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/login", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://accounts.test/authorize?provider=google", w.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login", nil)
	req.Header.Set("Accept", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.JSONEq(t, `{"url":"https://accounts.test/authorize?provider=twitter"}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/auth/myspace/login", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/auth/google/callback?error=access_denied&error_description=User+cancelled", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"User cancelled"}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/auth/google/callback?code=good&state=s", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session=alice-token")

	w = env.do(http.MethodGet, "/api/v1/auth/session", "", nil)
	assert.JSONEq(t, `{"user":null}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/auth/session", "bob-token", nil)
	assert.JSONEq(t, `{"user":{"id":"bob","provider":"twitter","capabilities":["twitter"]}}`, w.Body.String())

	w = env.do(http.MethodPost, "/api/v1/auth/logout", "bob-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"bob"}, env.auth.signedOut)
}

func TestRelayRouteAnswersPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/functions/post-to-twitter", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = env.do(http.MethodPost, "/functions/post-to-twitter", "", map[string]string{"tweet": "hi", "providerToken": "tok"})
	assert.JSONEq(t, `{"success":true,"data":{"data":{"id":"1"}}}`, w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}
