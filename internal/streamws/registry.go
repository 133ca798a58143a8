package streamws

import (
	"context"
	"encoding/json"
	"sync"

	ws "nhooyr.io/websocket"
)

// Registry tracks the viewer connections of each session.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[*ws.Conn]struct{}
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]map[*ws.Conn]struct{})} }

func (r *Registry) Add(sessionID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == nil {
		r.conns[sessionID] = make(map[*ws.Conn]struct{})
	}
	r.conns[sessionID][c] = struct{}{}
}

func (r *Registry) Remove(sessionID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns[sessionID], c)
	if len(r.conns[sessionID]) == 0 {
		delete(r.conns, sessionID)
	}
}

func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[sessionID])
}

// CloseSession disconnects every viewer of a session.
func (r *Registry) CloseSession(sessionID, reason string) {
	r.mu.Lock()
	conns := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()
	for c := range conns {
		_ = c.Close(ws.StatusNormalClosure, reason)
	}
}

// SendJSON writes v to one connection.
func SendJSON(ctx context.Context, c *ws.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
