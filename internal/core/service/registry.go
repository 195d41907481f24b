package service

import (
	"sync"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// Registry maps live connections to their current room membership and role.
// A connection holds a single session field, so it can never be recorded in
// two rooms at once.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*domain.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnectionID]*domain.Connection),
	}
}

func (r *Registry) Register(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return
	}
	r.conns[id] = &domain.Connection{ID: id}
}

func (r *Registry) Lookup(id domain.ConnectionID) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return domain.Connection{}, false
	}
	return *c, true
}

func (r *Registry) Remove(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// assign records membership. It reports false for unknown connections.
func (r *Registry) assign(id domain.ConnectionID, sessionID domain.SessionID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.SessionID = sessionID
	c.Role = role
	return true
}

// release clears membership only if the connection is still recorded in
// sessionID.
func (r *Registry) release(id domain.ConnectionID, sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || c.SessionID != sessionID {
		return
	}
	c.SessionID = ""
	c.Role = ""
}
