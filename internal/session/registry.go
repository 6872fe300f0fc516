package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry hosts many sessions keyed by ID, for servers that serve more than
// one client.
type Registry struct {
	enhancer Enhancer
	opts     []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share enhancer and opts.
func NewRegistry(enhancer Enhancer, opts ...Option) *Registry {
	return &Registry{
		enhancer: enhancer,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create makes and registers a new session with a random ID.
func (r *Registry) Create() *Session {
	id := uuid.NewString()
	opts := append(append([]Option{}, r.opts...), WithID(id))
	s := New(r.enhancer, opts...)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	log.Debug().Str("session", id).Msg("Session created")
	return s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete closes and removes a session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
