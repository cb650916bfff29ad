package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridwatch/models"
	"gridwatch/relay"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// ErrNoProviderToken is returned when the identity carries no token for the provider
var ErrNoProviderToken = errors.New("No Twitter access token available. Please log out and log back in with Twitter.")

// Twitter shares through the social relay
type Twitter struct {
	poster relay.Poster
}

// NewTwitter creates a Twitter sharer
func NewTwitter(poster relay.Poster) *Twitter {
	return &Twitter{poster: poster}
}

func (t *Twitter) Provider() models.Provider { return models.ProviderTwitter }

// Share posts message with the identity's Twitter token
func (t *Twitter) Share(ctx context.Context, identity *models.Identity, message string) error {
	if identity == nil || identity.ProviderToken == "" {
		return ErrNoProviderToken
	}
	data, err := t.poster.Post(ctx, message, identity.ProviderToken)
	if err != nil {
		return err
	}
	log.WithField("user_id", identity.UserID).Debugf("Posted to Twitter: %s", data)
	return nil
}

// Facebook posts to the signed-in user's feed through the Graph API
type Facebook struct {
	client *resty.Client
}

// NewFacebook creates a Facebook sharer against graphURL, e.g. https://graph.facebook.com
func NewFacebook(graphURL string, timeout time.Duration) *Facebook {
	return &Facebook{client: resty.New().SetBaseURL(graphURL).SetTimeout(timeout)}
}

func (f *Facebook) Provider() models.Provider { return models.ProviderFacebook }

// Share posts message to /me/feed
func (f *Facebook) Share(ctx context.Context, identity *models.Identity, message string) error {
	if identity == nil || identity.ProviderToken == "" {
		return errors.New("no Facebook access token available")
	}

	var graphErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetAuthToken(identity.ProviderToken).
		SetBody(map[string]string{"message": message}).
		SetError(&graphErr).
		Post("/me/feed")
	if err != nil {
		return fmt.Errorf("failed to post to Facebook: %w", err)
	}
	if resp.IsError() {
		msg := graphErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("Facebook API error (%d): %s", resp.StatusCode(), msg)
	}
	return nil
}
