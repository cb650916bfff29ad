package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gridwatch/config"
	"gridwatch/models"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

// ErrUnknownProvider is returned for providers that are not configured
var ErrUnknownProvider = errors.New("sign-in provider is not configured")

var (
	twitterEndpoint = oauth2.Endpoint{
		AuthURL:  "https://twitter.com/i/oauth2/authorize",
		TokenURL: "https://api.twitter.com/2/oauth2/token",
	}
	linkedInEndpoint = oauth2.Endpoint{
		AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
	}
)

// Profile is the account information a provider returns after sign-in
type Profile struct {
	ID    string
	Name  string
	Email string
}

// ProviderConfig describes one OAuth provider
type ProviderConfig struct {
	Name        models.Provider
	OAuth       *oauth2.Config
	UserInfoURL string
	// PKCE adds a code verifier to the authorization-code exchange
	PKCE         bool
	parseProfile func([]byte) (Profile, error)
}

// ProvidersFromConfig builds the providers that have client credentials configured
func ProvidersFromConfig(cfg *config.Config) []ProviderConfig {
	callback := func(p models.Provider) string {
		return fmt.Sprintf("%s/api/v1/auth/%s/callback", cfg.PublicBaseURL, p)
	}

	var out []ProviderConfig
	if cfg.GoogleClientID != "" {
		out = append(out, ProviderConfig{
			Name: models.ProviderGoogle,
			OAuth: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				RedirectURL:  callback(models.ProviderGoogle),
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			parseProfile: parseOIDCProfile,
		})
	}
	if cfg.FacebookClientID != "" {
		out = append(out, ProviderConfig{
			Name: models.ProviderFacebook,
			OAuth: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     facebook.Endpoint,
				RedirectURL:  callback(models.ProviderFacebook),
				Scopes:       []string{"public_profile", "email"},
			},
			UserInfoURL:  cfg.FacebookGraphURL + "/me?fields=id,name,email",
			parseProfile: parseFacebookProfile,
		})
	}
	if cfg.TwitterClientID != "" {
		out = append(out, ProviderConfig{
			Name: models.ProviderTwitter,
			OAuth: &oauth2.Config{
				ClientID:     cfg.TwitterClientID,
				ClientSecret: cfg.TwitterClientSecret,
				Endpoint:     twitterEndpoint,
				RedirectURL:  callback(models.ProviderTwitter),
				Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			},
			UserInfoURL:  cfg.TwitterAPIURL + "/2/users/me",
			PKCE:         true,
			parseProfile: parseTwitterProfile,
		})
	}
	if cfg.LinkedInClientID != "" {
		out = append(out, ProviderConfig{
			Name: models.ProviderLinkedIn,
			OAuth: &oauth2.Config{
				ClientID:     cfg.LinkedInClientID,
				ClientSecret: cfg.LinkedInClientSecret,
				Endpoint:     linkedInEndpoint,
				RedirectURL:  cfg.LinkedInRedirectURL,
				Scopes:       []string{"openid", "profile", "email"},
			},
			UserInfoURL:  "https://api.linkedin.com/v2/userinfo",
			parseProfile: parseOIDCProfile,
		})
	}
	return out
}

// fetchProfile calls the provider's userinfo endpoint with the freshly issued token
func (p ProviderConfig) fetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	httpClient := p.OAuth.Client(ctx, token)
	resp, err := resty.NewWithClient(httpClient).R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(p.UserInfoURL)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to fetch %s profile: %w", p.Name, err)
	}
	if resp.IsError() {
		return Profile{}, fmt.Errorf("%s profile request failed: %s", p.Name, resp.Status())
	}

	parse := p.parseProfile
	if parse == nil {
		parse = parseOIDCProfile
	}
	profile, err := parse(resp.Body())
	if err != nil {
		return Profile{}, err
	}
	if profile.ID == "" {
		return Profile{}, fmt.Errorf("%s profile has no account id", p.Name)
	}
	return profile, nil
}

func parseOIDCProfile(body []byte) (Profile, error) {
	var v struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	return Profile{ID: v.Sub, Name: v.Name, Email: v.Email}, nil
}

func parseFacebookProfile(body []byte) (Profile, error) {
	var v struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	return Profile{ID: v.ID, Name: v.Name, Email: v.Email}, nil
}

func parseTwitterProfile(body []byte) (Profile, error) {
	var v struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	name := v.Data.Name
	if name == "" {
		name = v.Data.Username
	}
	return Profile{ID: v.Data.ID, Name: name}, nil
}
