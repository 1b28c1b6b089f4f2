package ws

import "sync"

// Hub tracks every open session for broadcasts.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Add registers a session.
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Remove drops a session.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ForEach runs fn over a snapshot of the sessions.
func (h *Hub) ForEach(fn func(*Conn)) {
	h.mu.Lock()
	snapshot := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// BroadcastToAuthenticated sends an event to every logged-in session.
func (h *Hub) BroadcastToAuthenticated(event string, args ...any) {
	h.ForEach(func(c *Conn) {
		if c.Authenticated() {
			c.SendEvent(event, args...)
		}
	})
}

// DisconnectOthers asks every other session of the same user to refresh
// and then closes it.
func (h *Hub) DisconnectOthers(current *Conn) {
	h.ForEach(func(c *Conn) {
		if c.ID() == current.ID() || c.UserID() != current.UserID() {
			return
		}
		c.SendEvent("refresh")
		c.Close()
	})
}
