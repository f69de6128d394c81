// Package session tracks sessions seen by this process. The registry is an
// in-memory convenience layer for listings and gauges; the turn log in the
// memory store is the source of truth, and losing the registry is harmless.
package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Info is a snapshot of one session's activity as seen by this process.
type Info struct {
	ID             string    `json:"session_id"`
	Exchanges      int       `json:"exchanges"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Info
	inactivityTimeout time.Duration
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Info),
		inactivityTimeout: inactivityTimeout,
	}
}

// Touch records one completed exchange, creating the session lazily.
func (r *Registry) Touch(sessionID string) {
	if sessionID == "" {
		return
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &Info{ID: sessionID, FirstSeenAt: now}
		r.sessions[sessionID] = s
	}
	s.Exchanges++
	s.LastActivityAt = now
}

// Forget drops a session from the registry (e.g. after its log is cleared).
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ActiveCount reports sessions with activity inside the inactivity window.
func (r *Registry) ActiveCount() int {
	now := time.Now().UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if now.Sub(s.LastActivityAt) < r.inactivityTimeout {
			count++
		}
	}
	return count
}

// List returns all known sessions, most recently active first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// StartJanitor prunes long-inactive registry entries in the background.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.pruneInactive()
			}
		}
	}()
}

func (r *Registry) pruneInactive() {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) >= r.inactivityTimeout {
			delete(r.sessions, id)
		}
	}
}
