package websocket

import (
	"sync"

	"github.com/samber/lo"
)

// Registry tracks open connections so they can be counted and closed on shutdown.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byIdentity  map[string]map[string]*Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byIdentity:  make(map[string]map[string]*Connection),
	}
}

// Register adds a connection. An identity may hold several connections.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	identity := conn.Identity().ID
	if r.byIdentity[identity] == nil {
		r.byIdentity[identity] = make(map[string]*Connection)
	}
	r.byIdentity[identity][conn.ID()] = conn
	return nil
}

// Unregister removes a connection. Idempotent.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[conn.ID()]; !ok || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	identity := conn.Identity().ID
	if conns, ok := r.byIdentity[identity]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byIdentity, identity)
		}
	}
}

// Stats reports connection counts for health checks.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"identities":        len(r.byIdentity),
	}
}

// CloseAll closes every registered connection. Their read loops run the
// usual disconnect cleanup.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := lo.Values(r.connections)
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
