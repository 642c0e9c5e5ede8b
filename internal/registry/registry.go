package registry

import (
	"sync"
	"time"

	"notifyhub/internal/model"
)

// Handle is a live output channel to one connected client.
type Handle interface {
	Send(frame model.Frame) error
	Close()
}

type entry struct {
	handle       Handle
	lastActivity time.Time
}

// StaleEntry is a registration idle beyond the sweep threshold.
type StaleEntry struct {
	UserID       string
	Handle       Handle
	LastActivity time.Time
}

// Registry maps user id to the connection this process holds for that user.
// At most one entry per user; Register replaces.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register stores h for userID and reports whether an older handle was replaced.
func (r *Registry) Register(userID string, h Handle) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.entries[userID]
	r.entries[userID] = &entry{handle: h, lastActivity: r.now()}
	return replaced
}

// Remove is idempotent.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// Deregister removes userID only while it still maps to h.
func (r *Registry) Deregister(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.handle != h {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) Get(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Touch records a successful send through h. A replaced handle cannot refresh
// the entry that superseded it.
func (r *Registry) Touch(userID string, h Handle) {
	r.mu.Lock()
	if e, ok := r.entries[userID]; ok && e.handle == h {
		e.lastActivity = r.now()
	}
	r.mu.Unlock()
}

// Stale lists entries whose last activity is older than threshold.
func (r *Registry) Stale(threshold time.Duration) []StaleEntry {
	cutoff := r.now().Add(-threshold)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StaleEntry
	for userID, e := range r.entries {
		if e.lastActivity.Before(cutoff) {
			out = append(out, StaleEntry{
				UserID:       userID,
				Handle:       e.handle,
				LastActivity: e.lastActivity,
			})
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
