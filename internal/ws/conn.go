// Package ws implements the bidirectional named-message protocol
// between browser clients and the server: JSON frames carrying an event
// name, positional arguments and an optional reply slot.
package ws

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/griffithind/dockge/internal/util"
)

// Frame is one message in either direction. Client requests carry Event,
// Args and optionally Ack; replies carry Ack and Data; server pushes
// carry Event and Args.
type Frame struct {
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
	Ack   int64             `json:"ack,omitempty"`
	Data  any               `json:"data,omitempty"`
}

// PeerManager is the per-session federation handle, torn down with the
// connection.
type PeerManager interface {
	Close()
}

// Conn is one client session: the socket plus per-connection state.
type Conn struct {
	id string
	ws *websocket.Conn
	ip string

	writeMu sync.Mutex

	mu        sync.Mutex
	userID    int64
	username  string
	endpoint  string
	connected bool
	agents    PeerManager
}

// NewConn wraps an upgraded websocket. The client IP honours
// X-Forwarded-For only when trustProxy is set.
func NewConn(wsConn *websocket.Conn, r *http.Request, trustProxy bool) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		ws:        wsConn,
		ip:        clientIP(r, trustProxy),
		endpoint:  r.URL.Query().Get("endpoint"),
		connected: true,
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ID returns the session identifier.
func (c *Conn) ID() string { return c.id }

// IP returns the client address used for rate limiting.
func (c *Conn) IP() string { return c.ip }

// Endpoint returns the session's default routing endpoint.
func (c *Conn) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Connected reports whether the socket is still open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Authenticated reports whether a login has succeeded on this session.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID != 0
}

// UserID returns the logged-in user id, or zero.
func (c *Conn) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Username returns the logged-in username, or empty.
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SetUser marks the session authenticated.
func (c *Conn) SetUser(id int64, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
	c.username = username
}

// AgentManager returns the session's federation handle, or nil.
func (c *Conn) AgentManager() PeerManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents
}

// SetAgentManager attaches the session's federation handle.
func (c *Conn) SetAgentManager(m PeerManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = m
}

// SendEvent pushes a named event with positional arguments.
func (c *Conn) SendEvent(event string, args ...any) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		if err != nil {
			util.Warn("cannot encode %s argument: %v", event, err)
			return
		}
		raw = append(raw, encoded)
	}
	c.writeFrame(Frame{Event: event, Args: raw})
}

// SendAck delivers a reply on a request's reply slot.
func (c *Conn) SendAck(ack int64, data any) {
	if ack == 0 {
		return
	}
	c.writeFrame(Frame{Ack: ack, Data: data})
}

func (c *Conn) writeFrame(f Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Connected() {
		return
	}
	if err := c.ws.WriteJSON(f); err != nil {
		util.Debug("write to session %s failed: %v", c.id, err)
	}
}

// ReadFrame blocks for the next client frame.
func (c *Conn) ReadFrame() (Frame, error) {
	var f Frame
	err := c.ws.ReadJSON(&f)
	return f, err
}

// Close tears the session down: marks it disconnected, closes the
// socket and the per-session federation peers.
func (c *Conn) Close() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	agents := c.agents
	c.agents = nil
	c.mu.Unlock()

	if agents != nil {
		agents.Close()
	}
	_ = c.ws.Close()
}

// SendTerminalWrite delivers a terminal output chunk.
func (c *Conn) SendTerminalWrite(terminalName string, data string) {
	c.SendEvent("terminalWrite", terminalName, data)
}

// SendTerminalExit delivers a terminal exit code.
func (c *Conn) SendTerminalExit(terminalName string, exitCode int) {
	c.SendEvent("terminalExit", terminalName, exitCode)
}
