package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gridwatch/models"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired sessions
var ErrSessionNotFound = errors.New("session not found")

// Session is a signed-in browser session together with the provider tokens it was granted
type Session struct {
	ID                   string
	UserID               string
	Provider             models.Provider
	ProviderToken        string
	ProviderRefreshToken string
	ExpiresAt            time.Time
	Name                 string
	Email                string
}

// UserService stores OAuth users and their sessions
type UserService struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewUserService creates a new user service instance
func NewUserService(db *sql.DB) *UserService {
	return &UserService{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// UpsertUser returns the local user id for a provider account, creating the user on first sign-in
func (s *UserService) UpsertUser(ctx context.Context, provider models.Provider, providerUserID, name, email string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE provider = ? AND provider_user_id = ?",
		string(provider), providerUserID).Scan(&userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		userID = s.newID()
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO users (id, provider, provider_user_id, name, email) VALUES (?, ?, ?, ?, ?)",
			userID, string(provider), providerUserID, name, email); err != nil {
			return "", fmt.Errorf("failed to insert user: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("failed to query user: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx,
			"UPDATE users SET name = ?, email = ? WHERE id = ?",
			name, email, userID); err != nil {
			return "", fmt.Errorf("failed to update user: %w", err)
		}
	}
	return userID, nil
}

// CreateSession stores a new session and returns its id
func (s *UserService) CreateSession(ctx context.Context, sess Session) (string, error) {
	if sess.ID == "" {
		sess.ID = s.newID()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, provider, provider_token, provider_refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Provider), sess.ProviderToken, sess.ProviderRefreshToken, sess.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return sess.ID, nil
}

// GetSession loads a live session with its user profile
func (s *UserService) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sess         Session
		provider     string
		token        sql.NullString
		refreshToken sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT s.id, s.user_id, s.provider, s.provider_token,
		s.provider_refresh_token, s.expires_at, u.name, u.email
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?`, id).Scan(&sess.ID, &sess.UserID, &provider, &token, &refreshToken,
		&sess.ExpiresAt, &sess.Name, &sess.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if !sess.ExpiresAt.After(s.now()) {
		return nil, ErrSessionNotFound
	}

	sess.Provider = models.Provider(provider)
	sess.ProviderToken = token.String
	sess.ProviderRefreshToken = refreshToken.String
	return &sess, nil
}

// DeleteSession removes a session; deleting an unknown session is not an error
func (s *UserService) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
