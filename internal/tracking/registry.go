package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoSession is returned for an unknown session id.
	ErrNoSession = errors.New("tracking session not found")
	// ErrUnavailable is returned by Open when no model is configured.
	ErrUnavailable = errors.New("tracking unavailable")
	// ErrTooManySessions is returned by Open when the session limit is reached.
	ErrTooManySessions = errors.New("too many tracking sessions")
)

const (
	DefaultMaxSessions = 8
	DefaultIdleTTL     = 5 * time.Minute
)

// Opener creates a new tracker.
type Opener interface {
	Open() (*Tracker, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() (*Tracker, error)

func (f OpenerFunc) Open() (*Tracker, error) { return f() }

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSessions caps the number of live sessions. Zero or less means
// no limit.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// WithIdleTTL sets how long a session may go untouched before Reap closes
// it. Zero or less disables reaping.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

// Registry keeps the live sessions by id.
type Registry struct {
	opener      Opener
	maxSessions int
	idleTTL     time.Duration

	mu       sync.RWMutex
	sessions map[string]*Tracker
	opening  int
}

// NewRegistry returns an empty registry. A nil opener means tracking is
// unavailable and Open always fails.
func NewRegistry(opener Opener, opts ...Option) *Registry {
	r := &Registry{
		opener:      opener,
		maxSessions: DefaultMaxSessions,
		idleTTL:     DefaultIdleTTL,
		sessions:    make(map[string]*Tracker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether sessions can be opened.
func (r *Registry) Available() bool {
	return r.opener != nil
}

// Open starts a session and registers it.
func (r *Registry) Open() (*Tracker, error) {
	if r.opener == nil {
		return nil, ErrUnavailable
	}

	// reserve a slot so concurrent opens cannot overshoot the limit
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions)+r.opening >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	r.opening++
	r.mu.Unlock()

	t, err := r.opener.Open()

	r.mu.Lock()
	r.opening--
	if err == nil {
		r.sessions[t.ID()] = t
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get looks a session up.
func (r *Registry) Get(id string) (*Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return t, nil
}

// Close removes the session and tears it down.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	t, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	return t.Close()
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap closes every session idle since before now minus the idle TTL and
// returns how many were closed.
func (r *Registry) Reap(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Tracker
	for id, t := range r.sessions {
		if t.LastActive().Before(cutoff) {
			idle = append(idle, t)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, t := range idle {
		log.Info().
			Str("component", "tracking").
			Str("session", t.ID()).
			Time("last_active", t.LastActive()).
			Msg("Closing idle session")
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("component", "tracking").Str("session", t.ID()).Msg("Failed to close session")
		}
	}
	return len(idle)
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Reap(now)
		}
	}
}

// CloseAll tears down every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Tracker)
	r.mu.Unlock()

	for id, t := range sessions {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("component", "tracking").Str("session", id).Msg("Failed to close session")
		}
	}
}
