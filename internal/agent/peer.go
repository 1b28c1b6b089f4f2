// Package agent implements the federation layer: per-session outbound
// connections to peer servers, version negotiation and request routing.
package agent

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/ws"
)

// Status is a peer's connection state.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
)

// MinPeerVersion is the oldest peer version this server federates with.
var MinPeerVersion = semver.MustParse("1.4.0")

const (
	dialTimeout      = 10 * time.Second
	callTimeout      = 30 * time.Second
	reconnectDelay   = 5 * time.Second
	// OnlineWaitWindow bounds how long a targeted call waits for a peer
	// that is still reconnecting.
	OnlineWaitWindow = 10 * time.Second
	onlinePollPeriod = time.Second
)

// Session receives peer status and forwarded events. ws.Conn satisfies
// this.
type Session interface {
	ID() string
	SendEvent(event string, args ...any)
}

// Peer is one outbound connection to a federated server, owned by a
// single session.
type Peer struct {
	URL      string
	Username string
	Password string
	endpoint string

	session Session

	// writeMu serializes frame writes; the websocket permits only one
	// concurrent writer.
	writeMu sync.Mutex

	mu     sync.Mutex
	status Status
	conn   *websocket.Conn

	nextAck int64
	pending map[int64]chan map[string]any

	ctx    context.Context
	cancel context.CancelFunc
}

func newPeer(session Session, agentURL, endpoint, username, password string) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		URL:      agentURL,
		Username: username,
		Password: password,
		endpoint: endpoint,
		session:  session,
		status:   StatusOffline,
		pending:  make(map[int64]chan map[string]any),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Endpoint returns the peer's host[:port] identity.
func (p *Peer) Endpoint() string { return p.endpoint }

// Status returns the current connection state.
func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// start runs the connect/login/read loop until the peer is closed.
func (p *Peer) start() {
	go func() {
		for {
			p.runOnce()
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()
}

// close tears the connection down permanently.
func (p *Peer) close() {
	p.cancel()
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *Peer) setStatus(status Status, msg string) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()
	if changed {
		if msg != "" {
			p.session.SendEvent("agentStatus", map[string]any{
				"endpoint": p.endpoint, "status": string(status), "msg": msg,
			})
			return
		}
		p.session.SendEvent("agentStatus", map[string]any{
			"endpoint": p.endpoint, "status": string(status),
		})
	}
}

// runOnce performs one dial / login / read-loop cycle.
func (p *Peer) runOnce() {
	p.setStatus(StatusConnecting, "")

	socketURL, err := SocketURL(p.URL)
	if err != nil {
		p.setStatus(StatusOffline, err.Error())
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(p.ctx, socketURL, nil)
	if err != nil {
		util.Debug("cannot reach agent %s: %v", p.endpoint, err)
		p.setStatus(StatusOffline, "")
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	defer func() {
		conn.Close()
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		p.failPending()
	}()

	go p.login()
	p.readLoop(conn)
	p.setStatus(StatusOffline, "")
}

func (p *Peer) login() {
	reply, err := p.call(p.ctx, "login", map[string]any{
		"username": p.Username,
		"password": p.Password,
	})
	if err != nil {
		p.setStatus(StatusOffline, "")
		return
	}
	if ok, _ := reply["ok"].(bool); !ok {
		msg, _ := reply["msg"].(string)
		util.Warn("agent %s rejected login: %s", p.endpoint, msg)
		p.setStatus(StatusOffline, msg)
		p.close()
		return
	}
	p.setStatus(StatusOnline, "")
}

func (p *Peer) readLoop(conn *websocket.Conn) {
	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch {
		case f.Ack != 0 && f.Event == "":
			p.resolve(f)
		case f.Event == "info":
			p.checkVersion(f)
			p.forward(f)
		case f.Event != "":
			p.forward(f)
		}
	}
}

// checkVersion enforces the minimum peer version from the first info
// event after login.
func (p *Peer) checkVersion(f ws.Frame) {
	if len(f.Args) == 0 {
		return
	}
	var info struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(f.Args[0], &info); err != nil || info.Version == "" {
		return
	}
	if CompatibleVersion(info.Version) {
		return
	}

	err := errors.AgentIncompatible(p.endpoint, info.Version)
	util.Warn("%s", err.ClientMessage())
	p.setStatus(StatusOffline, err.ClientMessage())
	p.close()
}

// forward relays a peer event to the owning session, wrapped with the
// peer's endpoint tag.
func (p *Peer) forward(f ws.Frame) {
	args := make([]any, 0, len(f.Args)+2)
	args = append(args, p.endpoint, f.Event)
	for _, raw := range f.Args {
		args = append(args, json.RawMessage(raw))
	}
	p.session.SendEvent("agent", args...)
}

func (p *Peer) resolve(f ws.Frame) {
	var reply map[string]any
	if raw, err := json.Marshal(f.Data); err == nil {
		_ = json.Unmarshal(raw, &reply)
	}
	p.mu.Lock()
	ch, ok := p.pending[f.Ack]
	delete(p.pending, f.Ack)
	p.mu.Unlock()
	if ok {
		ch <- reply
	}
}

func (p *Peer) failPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[int64]chan map[string]any)
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// call sends a request frame and waits for its reply.
func (p *Peer) call(ctx context.Context, event string, args ...any) (map[string]any, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil, errors.AgentUnreachable(p.endpoint)
	}

	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryAgent, errors.CodeInternal,
				"cannot encode request")
		}
		raw = append(raw, encoded)
	}

	ack := atomic.AddInt64(&p.nextAck, 1)
	ch := make(chan map[string]any, 1)
	p.mu.Lock()
	p.pending[ack] = ch
	p.mu.Unlock()

	p.writeMu.Lock()
	err := conn.WriteJSON(ws.Frame{Event: event, Args: raw, Ack: ack})
	p.writeMu.Unlock()
	if err != nil {
		p.dropPending(ack)
		return nil, errors.AgentUnreachable(p.endpoint)
	}

	select {
	case <-ctx.Done():
		p.dropPending(ack)
		return nil, ctx.Err()
	case <-time.After(callTimeout):
		p.dropPending(ack)
		return nil, errors.AgentUnreachable(p.endpoint)
	case reply, ok := <-ch:
		if !ok {
			return nil, errors.AgentUnreachable(p.endpoint)
		}
		return reply, nil
	}
}

func (p *Peer) dropPending(ack int64) {
	p.mu.Lock()
	delete(p.pending, ack)
	p.mu.Unlock()
}

// waitOnline polls until the peer is Online or the window closes.
func (p *Peer) waitOnline(ctx context.Context) error {
	deadline := time.Now().Add(OnlineWaitWindow)
	for {
		if p.Status() == StatusOnline {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.AgentUnreachable(p.endpoint)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(onlinePollPeriod):
		}
	}
}

// CompatibleVersion reports whether a peer version passes the gate.
// Unparseable versions are let through; the gate exists to reject known
// old releases, not to guess about forks.
func CompatibleVersion(version string) bool {
	parsed, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return true
	}
	return !parsed.LessThan(MinPeerVersion)
}

// SocketURL converts an agent's base URL to its websocket endpoint.
func SocketURL(agentURL string) (string, error) {
	parsed, err := url.Parse(agentURL)
	if err != nil || parsed.Host == "" {
		return "", errors.Newf(errors.CategoryAgent, errors.CodeInvalidArgument,
			"Invalid agent URL: %s", agentURL)
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/socket"
	return parsed.String(), nil
}
