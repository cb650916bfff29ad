package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrDraftNotFound is returned for unknown, expired or foreign drafts
var ErrDraftNotFound = errors.New("draft not found")

type entry struct {
	wf      *Workflow
	owner   string
	touched time.Time
}

// Registry holds in-progress workflows between HTTP requests
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry that forgets workflows idle for longer than ttl
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add stores wf for owner and returns its id
func (r *Registry) Add(owner string, wf *Workflow) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &entry{wf: wf, owner: owner, touched: r.now()}
	return id
}

// Get returns the owner's workflow and marks it as used
func (r *Registry) Get(owner, id string) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.owner != owner {
		return nil, ErrDraftNotFound
	}
	if r.now().Sub(e.touched) > r.ttl {
		delete(r.entries, id)
		return nil, ErrDraftNotFound
	}
	e.touched = r.now()
	return e.wf, nil
}

// Remove forgets a workflow
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// DropOwner forgets every workflow owned by owner and returns how many were dropped
func (r *Registry) DropOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of held workflows
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops idle workflows and returns how many were dropped
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	dropped := 0
	for id, e := range r.entries {
		if now.Sub(e.touched) > r.ttl {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Debugf("Dropped %d idle drafts", n)
			}
		}
	}
}
