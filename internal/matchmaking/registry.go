package matchmaking

import "sync"

// Conn is the slice of a live connection the registry needs: identity plus a
// non-blocking send.
type Conn interface {
	UserID() string
	Send(payload []byte) bool
}

// Registry tracks at most one live connection per user. A second login for the
// same user supersedes the first; the caller receives the displaced connection
// so it can be evicted at the transport layer.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register records the connection under its user id, returning any displaced
// connection for the same user.
func (r *Registry) Register(conn Conn) (displaced Conn) {
	if r == nil || conn == nil || conn.UserID() == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.conns[conn.UserID()]
	r.conns[conn.UserID()] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Unregister removes the user's entry only when it still points at the given
// connection, so a superseded socket cannot evict its replacement. Passing a
// nil connection removes unconditionally.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	if r == nil || userID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[userID]
	if !ok {
		return false
	}
	if conn != nil && current != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the live connection for the user, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Connected reports whether the user currently has a registered connection.
func (r *Registry) Connected(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}
