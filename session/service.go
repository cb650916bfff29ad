package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridwatch/database"
	"gridwatch/metrics"
	"gridwatch/models"

	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

var (
	// ErrInvalidToken is returned for session tokens that fail validation
	ErrInvalidToken = errors.New("invalid session token")
	// ErrInvalidState is returned when an OAuth callback carries a bad or expired state
	ErrInvalidState = errors.New("invalid sign-in state")
)

// EventKind tells listeners what changed
type EventKind string

const (
	EventSignedIn  EventKind = "signed-in"
	EventSignedOut EventKind = "signed-out"
)

// Event is delivered to subscribers on every session change. Identity is nil after sign-out.
// The server-side Service always sets UserID.
type Event struct {
	Kind     EventKind
	Identity *models.Identity
	UserID   string
}

// UserStore persists users and sessions
type UserStore interface {
	UpsertUser(ctx context.Context, provider models.Provider, providerUserID, name, email string) (string, error)
	CreateSession(ctx context.Context, sess database.Session) (string, error)
	GetSession(ctx context.Context, id string) (*database.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type listener struct {
	id int
	fn func(Event)
}

// Service runs OAuth sign-in and issues session tokens
type Service struct {
	users     UserStore
	providers map[models.Provider]ProviderConfig
	secret    []byte
	ttl       time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	listeners []listener
	nextID    int
}

// NewService creates a new session service instance
func NewService(users UserStore, providers []ProviderConfig, secret string, ttl time.Duration) *Service {
	byName := make(map[models.Provider]ProviderConfig, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	return &Service{
		users:     users,
		providers: byName,
		secret:    []byte(secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Providers lists the configured providers in sign-in order
func (s *Service) Providers() []models.Provider {
	var out []models.Provider
	for _, p := range models.AllProviders {
		if _, ok := s.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SignIn returns the provider's authorization URL for a new sign-in
func (s *Service) SignIn(provider models.Provider) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	now := s.now()
	claims := jwt.MapClaims{
		"type":     "state",
		"provider": string(provider),
		"nonce":    uuid.NewString(),
		"exp":      now.Add(stateTTL).Unix(),
		"iat":      now.Unix(),
	}
	var opts []oauth2.AuthCodeOption
	if p.PKCE {
		verifier := oauth2.GenerateVerifier()
		claims["verifier"] = verifier
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return p.OAuth.AuthCodeURL(state, opts...), nil
}

// Complete finishes a sign-in from the provider callback and returns the identity and its session token
func (s *Service) Complete(ctx context.Context, provider models.Provider, state, code string) (*models.Identity, string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, "", ErrUnknownProvider
	}

	claims, err := s.parse(state, "state")
	if err != nil {
		return nil, "", ErrInvalidState
	}
	if claimed, _ := claims["provider"].(string); claimed != string(provider) {
		return nil, "", ErrInvalidState
	}
	if code == "" {
		return nil, "", errors.New("missing authorization code")
	}

	var opts []oauth2.AuthCodeOption
	if verifier, _ := claims["verifier"].(string); verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := p.OAuth.Exchange(ctx, code, opts...)
	if err != nil {
		metrics.SessionEventsTotal.WithLabelValues("sign-in-failed", string(provider)).Inc()
		return nil, "", fmt.Errorf("failed to exchange %s code: %w", provider, err)
	}

	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		metrics.SessionEventsTotal.WithLabelValues("sign-in-failed", string(provider)).Inc()
		return nil, "", err
	}

	userID, err := s.users.UpsertUser(ctx, provider, profile.ID, profile.Name, profile.Email)
	if err != nil {
		return nil, "", err
	}

	expiresAt := s.now().Add(s.ttl).UTC()
	sessionID, err := s.users.CreateSession(ctx, database.Session{
		UserID:               userID,
		Provider:             provider,
		ProviderToken:        token.AccessToken,
		ProviderRefreshToken: token.RefreshToken,
		ExpiresAt:            expiresAt,
	})
	if err != nil {
		return nil, "", err
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"type":       "session",
		"session_id": sessionID,
		"user_id":    userID,
		"provider":   string(provider),
		"exp":        expiresAt.Unix(),
		"iat":        s.now().Unix(),
	}).SignedString(s.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	identity := &models.Identity{
		UserID:        userID,
		Name:          profile.Name,
		Email:         profile.Email,
		Provider:      provider,
		SessionID:     sessionID,
		ProviderToken: token.AccessToken,
		Capabilities:  models.CapabilitiesFor(provider),
	}

	log.WithFields(log.Fields{"user_id": userID, "provider": provider}).Info("User signed in")
	metrics.SessionEventsTotal.WithLabelValues(string(EventSignedIn), string(provider)).Inc()
	s.notify(Event{Kind: EventSignedIn, Identity: identity, UserID: userID})
	return identity, signed, nil
}

// Resolve validates a session token and returns its identity
func (s *Service) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	claims, err := s.parse(token, "session")
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessionID, _ := claims["session_id"].(string)
	if sessionID == "" {
		return nil, ErrInvalidToken
	}

	sess, err := s.users.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrSessionNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	return &models.Identity{
		UserID:        sess.UserID,
		Name:          sess.Name,
		Email:         sess.Email,
		Provider:      sess.Provider,
		SessionID:     sess.ID,
		ProviderToken: sess.ProviderToken,
		Capabilities:  models.CapabilitiesFor(sess.Provider),
	}, nil
}

// SignOut ends the identity's session
func (s *Service) SignOut(ctx context.Context, identity *models.Identity) error {
	if identity == nil || identity.SessionID == "" {
		return ErrInvalidToken
	}
	if err := s.users.DeleteSession(ctx, identity.SessionID); err != nil {
		return err
	}

	log.WithField("user_id", identity.UserID).Info("User signed out")
	metrics.SessionEventsTotal.WithLabelValues(string(EventSignedOut), string(identity.Provider)).Inc()
	s.notify(Event{Kind: EventSignedOut, UserID: identity.UserID})
	return nil
}

// Subscribe registers fn for session changes and returns a func that removes it
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify calls listeners in subscription order before returning
func (s *Service) notify(e Event) {
	s.mu.RLock()
	listeners := make([]listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.fn(e)
	}
}

func (s *Service) parse(tokenString, wantType string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if tokenType, _ := claims["type"].(string); tokenType != wantType {
		return nil, fmt.Errorf("expected %s token", wantType)
	}
	return claims, nil
}
