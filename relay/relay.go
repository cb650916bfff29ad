package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"gridwatch/metrics"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

const userAgent = "ElectricalInfrastructureApp/1.0"

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Kind classifies a relay failure
type Kind string

const (
	KindInvalidInput       Kind = "invalid-input"
	KindInvalidTokenFormat Kind = "invalid-token-format"
	KindAuthFailed         Kind = "auth-failed"
	KindProviderError      Kind = "provider-error"
	KindUnexpected         Kind = "unexpected"
)

// Error is a relay failure with the message shown to the user
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Poster posts text on behalf of the token's owner
type Poster interface {
	Post(ctx context.Context, text, token string) (json.RawMessage, error)
}

// Service relays posts to the Twitter API
type Service struct {
	client *resty.Client
}

// NewService creates a relay against baseURL, e.g. https://api.twitter.com
func NewService(baseURL string, timeout time.Duration) *Service {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	return &Service{client: client}
}

type providerError struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func parseProviderError(body []byte) providerError {
	var pe providerError
	_ = json.Unmarshal(body, &pe)
	return pe
}

// Post verifies token against the provider and posts text with it
func (s *Service) Post(ctx context.Context, text, token string) (json.RawMessage, error) {
	data, err := s.post(ctx, text, token)
	outcome := "ok"
	if rerr, ok := err.(*Error); ok {
		outcome = string(rerr.Kind)
	}
	metrics.RelayOutcomesTotal.WithLabelValues(outcome).Inc()
	return data, err
}

func (s *Service) post(ctx context.Context, text, token string) (json.RawMessage, error) {
	if text == "" || token == "" {
		return nil, &Error{Kind: KindInvalidInput, Message: "Missing tweet content or provider token"}
	}
	if !tokenPattern.MatchString(token) {
		log.Errorf("Invalid token format: %.20s", token)
		return nil, &Error{Kind: KindInvalidTokenFormat, Message: "Invalid token format. Please log out and log back in with Twitter."}
	}

	userResp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/2/users/me")
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}
	if userResp.IsError() {
		pe := parseProviderError(userResp.Body())
		detail := firstNonEmpty(pe.Detail, pe.Title, "Invalid token")
		log.WithField("status", userResp.StatusCode()).Errorf("Twitter user verification failed: %s", detail)
		return nil, &Error{
			Kind:    KindAuthFailed,
			Status:  userResp.StatusCode(),
			Message: fmt.Sprintf("Twitter authentication failed: %s. Please log out and log back in with Twitter.", detail),
		}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": text}).
		Post("/2/tweets")
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, &Error{
			Kind:    KindAuthFailed,
			Status:  resp.StatusCode(),
			Message: "Twitter authentication failed. The access token may be expired or invalid. Please log out and log back in with Twitter.",
		}
	}
	if resp.IsError() {
		pe := parseProviderError(resp.Body())
		log.WithField("status", resp.StatusCode()).Errorf("Twitter API error: %s", resp.String())
		return nil, &Error{
			Kind:    KindProviderError,
			Status:  resp.StatusCode(),
			Message: fmt.Sprintf("Twitter API error (%d): %s", resp.StatusCode(), firstNonEmpty(pe.Detail, pe.Title, http.StatusText(resp.StatusCode()))),
		}
	}

	return json.RawMessage(resp.Body()), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
