package engine

import "sync"

// Registry tracks which connection currently serves each user. A user is
// "live" while a binding exists. Bindings are last-writer-wins so a fast
// reconnect simply replaces the old connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string // userID -> connection ID
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]string)}
}

// Bind associates userID with connID, replacing any previous binding.
func (r *Registry) Bind(userID, connID string) {
	r.mu.Lock()
	r.conns[userID] = connID
	r.mu.Unlock()
}

// Unbind removes the binding for userID and reports whether one was removed.
// When connID is non-empty the binding is only removed if it still points at
// that connection, so a disconnect arriving after a reconnect is a no-op.
func (r *Registry) Unbind(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok {
		return false
	}
	if connID != "" && current != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// IsLive reports whether userID has a bound connection.
func (r *Registry) IsLive(userID string) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// Resolve returns the connection ID bound to userID.
func (r *Registry) Resolve(userID string) (string, bool) {
	r.mu.RLock()
	connID, ok := r.conns[userID]
	r.mu.RUnlock()
	return connID, ok
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
