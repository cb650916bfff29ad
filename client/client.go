// Package client talks to the gridwatch HTTP API. A Client is both the report
// store used by the submission workflow and the identity source of a session.Holder.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"gridwatch/models"
	"gridwatch/session"
	"gridwatch/workflow"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx response from the API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type listener struct {
	id int
	fn func(session.Event)
}

// Client is a gridwatch API client
type Client struct {
	http *resty.Client

	mu        sync.RWMutex
	token     string
	listeners []listener
	nextID    int
}

// New creates a client for the API at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Token returns the session token in use
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx).SetError(&models.ErrorResponse{})
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// check turns a transport error or non-2xx response into an error
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*models.ErrorResponse); ok && e.Error != "" {
		msg = e.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

type reportList struct {
	Reports []models.Report `json:"reports"`
}

// ListReports returns every report, newest first
func (c *Client) ListReports(ctx context.Context) ([]models.Report, error) {
	var out reportList
	if err := check(c.request(ctx).SetResult(&out).Get("/api/v1/reports")); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// GetReport returns one report
func (c *Client) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var out models.Report
	if err := check(c.request(ctx).SetResult(&out).SetPathParam("id", id).Get("/api/v1/reports/{id}")); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateReport inserts a report owned by the signed-in user
func (c *Client) CreateReport(ctx context.Context, fields models.ReportFields) (*models.Report, error) {
	var out models.Report
	if err := check(c.request(ctx).SetBody(fields).SetResult(&out).Post("/api/v1/reports")); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateReport changes the given fields of a report
func (c *Client) UpdateReport(ctx context.Context, id string, fields models.ReportFields) (*models.Report, error) {
	var out models.Report
	if err := check(c.request(ctx).SetBody(fields).SetResult(&out).SetPathParam("id", id).Put("/api/v1/reports/{id}")); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus changes only the status of a report
func (c *Client) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Report, error) {
	var out models.Report
	err := check(c.request(ctx).
		SetBody(map[string]models.Status{"status": status}).
		SetResult(&out).
		SetPathParam("id", id).
		Patch("/api/v1/reports/{id}/status"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteReport removes a report
func (c *Client) DeleteReport(ctx context.Context, id string) error {
	return check(c.request(ctx).SetPathParam("id", id).Delete("/api/v1/reports/{id}"))
}

// UploadPhoto uploads one photo and returns its public URL
func (c *Client) UploadPhoto(ctx context.Context, photo workflow.Photo, index int) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := check(c.request(ctx).
		SetMultipartField("photo", photo.Name, photo.ContentType, bytes.NewReader(photo.Data)).
		SetFormData(map[string]string{"index": strconv.Itoa(index)}).
		SetResult(&out).
		Post("/api/v1/photos"))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

var _ workflow.Store = (*Client)(nil)
var _ session.Source = (*Client)(nil)

// CurrentIdentity returns the identity of the session token, or nil when signed out
func (c *Client) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	if c.Token() == "" {
		return nil, nil
	}
	var out struct {
		User *models.Identity `json:"user"`
	}
	if err := check(c.request(ctx).SetResult(&out).Get("/api/v1/auth/session")); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, nil
		}
		return nil, err
	}
	return out.User, nil
}

// SignIn returns the provider authorization URL to open in a browser
func (c *Client) SignIn(ctx context.Context, provider models.Provider) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := check(c.request(ctx).
		SetResult(&out).
		SetPathParam("provider", string(provider)).
		Get("/api/v1/auth/{provider}/login"))
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("no sign-in URL returned for %s", provider)
	}
	return out.URL, nil
}

// UseToken adopts the session token issued by the sign-in callback and notifies subscribers
func (c *Client) UseToken(ctx context.Context, token string) (*models.Identity, error) {
	c.mu.Lock()
	previous := c.token
	c.token = token
	c.mu.Unlock()

	identity, err := c.CurrentIdentity(ctx)
	if err == nil && identity == nil {
		err = &APIError{Status: http.StatusUnauthorized, Message: "session token was not accepted"}
	}
	if err != nil {
		c.mu.Lock()
		c.token = previous
		c.mu.Unlock()
		return nil, err
	}

	c.notify(session.Event{Kind: session.EventSignedIn, Identity: identity, UserID: identity.UserID})
	return identity, nil
}

// SignOut ends the session on the server and forgets the token
func (c *Client) SignOut(ctx context.Context) error {
	if err := check(c.request(ctx).Post("/api/v1/auth/logout")); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.notify(session.Event{Kind: session.EventSignedOut})
	return nil
}

// Subscribe registers fn for session changes and returns a func that removes it
func (c *Client) Subscribe(fn func(session.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) notify(e session.Event) {
	c.mu.RLock()
	listeners := append([]listener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		l.fn(e)
	}
}
