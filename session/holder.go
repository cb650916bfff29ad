package session

import (
	"context"
	"sync"

	"gridwatch/models"

	"github.com/apex/log"
)

// Source is where a Holder gets the signed-in identity from
type Source interface {
	// CurrentIdentity returns the signed-in identity, or nil when signed out
	CurrentIdentity(ctx context.Context) (*models.Identity, error)
	// SignIn starts a provider sign-in and returns the URL the user must visit
	SignIn(ctx context.Context, provider models.Provider) (string, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Holder exposes the current identity to its owner and keeps it in sync with the Source
type Holder struct {
	source      Source
	unsubscribe func()
	ready       chan struct{}

	mu       sync.RWMutex
	current  *models.Identity
	loading  bool
	notified bool
}

// NewHolder subscribes to source and starts resolving the initial identity
func NewHolder(ctx context.Context, source Source) *Holder {
	h := &Holder{
		source:  source,
		ready:   make(chan struct{}),
		loading: true,
	}
	h.unsubscribe = source.Subscribe(h.apply)
	go h.resolve(ctx)
	return h
}

func (h *Holder) resolve(ctx context.Context) {
	defer close(h.ready)
	identity, err := h.source.CurrentIdentity(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve current identity")
		identity = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// a change notification that arrived first is newer than this lookup
	if !h.notified {
		h.current = identity
	}
	h.loading = false
}

func (h *Holder) apply(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = e.Identity
	h.notified = true
	h.loading = false
}

// Current returns the signed-in identity or nil
func (h *Holder) Current() *models.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Loading is true until the initial identity has been resolved
func (h *Holder) Loading() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loading
}

// Ready is closed once the initial resolution finishes
func (h *Holder) Ready() <-chan struct{} {
	return h.ready
}

// SignIn starts a provider sign-in. The identity changes only when the Source reports it.
func (h *Holder) SignIn(ctx context.Context, provider models.Provider) (string, error) {
	url, err := h.source.SignIn(ctx, provider)
	if err != nil {
		log.WithError(err).WithField("provider", provider).Error("Sign-in failed")
		return "", err
	}
	return url, nil
}

// SignOut ends the session; on failure the current identity is kept
func (h *Holder) SignOut(ctx context.Context) error {
	if err := h.source.SignOut(ctx); err != nil {
		log.WithError(err).Error("Sign-out failed")
		return err
	}
	return nil
}

// Close stops listening for session changes
func (h *Holder) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}
