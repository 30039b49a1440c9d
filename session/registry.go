package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type entry struct {
	sess     *Session
	lastSeen time.Time
}

// ErrFull is returned by Create when no more sessions fit.
var ErrFull = errors.New("session registry full")

// Registry holds live sessions and forgets the ones left idle past ttl.
type Registry struct {
	clock clockwork.Clock
	ttl   time.Duration
	max   int // 0 means unbounded

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

// NewRegistry returns an empty registry holding at most maxSessions
// sessions, or any number when maxSessions is 0.
// Pass clockwork.NewRealClock() in production and a fake clock in tests.
func NewRegistry(clock clockwork.Clock, ttl time.Duration, maxSessions int) *Registry {
	return &Registry{
		clock:    clock,
		ttl:      ttl,
		max:      maxSessions,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create registers a fresh LOCKED session. When the registry is full it
// drops expired sessions first and returns ErrFull if none were.
func (r *Registry) Create() (*Session, error) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.sweepLocked(now)
		if len(r.sessions) >= r.max {
			return nil, ErrFull
		}
	}
	s := New()
	r.sessions[s.ID] = &entry{sess: s, lastSeen: now}
	return s, nil
}

// Get returns the session for id and refreshes its idle timer.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.clock.Now()
	if now.Sub(e.lastSeen) > r.ttl {
		delete(r.sessions, id)
		return nil, false
	}
	e.lastSeen = now
	return e.sess, true
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range r.sessions {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := r.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Int("live", r.Len()).Msg("swept idle sessions")
			}
		}
	}
}
