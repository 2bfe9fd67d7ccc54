package dialogue

import (
	"context"
	"errors"
	"sync"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrNotConnected = errors.New("dialogue: session not connected")

// Registry keeps at most one client connection per session.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*ws.Conn
	// writes are serialized per connection.
	locks map[*ws.Conn]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*ws.Conn), locks: make(map[*ws.Conn]*sync.Mutex)}
}

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	old, ok := r.conns[sessionID]
	if ok && old == c {
		r.mu.Unlock()
		return false
	}
	r.conns[sessionID] = c
	r.locks[c] = &sync.Mutex{}
	if ok {
		delete(r.locks, old)
	}
	r.mu.Unlock()
	if ok && old != nil {
		_ = old.Close(ws.StatusPolicyViolation, "replaced")
		prevClosed = true
	}
	metricConnections.Set(float64(r.Len()))
	return prevClosed
}

func (r *Registry) Get(sessionID string) *ws.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID]
}

// Remove drops the session's connection if it is still c. It reports whether
// c was the registered connection.
func (r *Registry) Remove(sessionID string, c *ws.Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[sessionID]
	removed := ok && cur == c
	if removed {
		delete(r.conns, sessionID)
		delete(r.locks, c)
	}
	r.mu.Unlock()
	metricConnections.Set(float64(r.Len()))
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SendJSON writes v to the session's current connection.
func (r *Registry) SendJSON(ctx context.Context, sessionID string, v any) error {
	r.mu.Lock()
	c := r.conns[sessionID]
	lock := r.locks[c]
	r.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	lock.Lock()
	defer lock.Unlock()
	return wsjson.Write(ctx, c, v)
}
