package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
)

// AllEndpoints is the broadcast sentinel: dispatch locally and to every
// online peer.
const AllEndpoints = "##ALL_DOCKGE_ENDPOINTS##"

// LocalDispatcher runs an event against this server's own handlers.
type LocalDispatcher func(event string, args []json.RawMessage) map[string]any

// AgentView is one entry of the agentList payload.
type AgentView struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

// Manager owns one session's outbound peers. Sessions never share
// peers; teardown on disconnect is the session's alone.
type Manager struct {
	session Session
	store   *db.Store
	local   LocalDispatcher

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewManager creates an empty manager for a session.
func NewManager(session Session, store *db.Store, local LocalDispatcher) *Manager {
	return &Manager{
		session: session,
		store:   store,
		local:   local,
		peers:   make(map[string]*Peer),
	}
}

// ConnectAll loads every active agent from persistence and opens one
// outbound connection per agent. Called once after login.
func (m *Manager) ConnectAll() error {
	agents, err := m.store.FindAgents()
	if err != nil {
		return err
	}
	for _, a := range agents {
		if !a.Active {
			continue
		}
		m.connect(a.URL, a.Endpoint(), a.Username, a.Password)
	}
	return nil
}

// Add persists a new agent and connects to it.
func (m *Manager) Add(agentURL, username, password string) error {
	if _, err := SocketURL(agentURL); err != nil {
		return err
	}
	a, err := m.store.CreateAgent(agentURL, username, password)
	if err != nil {
		return err
	}
	m.connect(a.URL, a.Endpoint(), a.Username, a.Password)
	return nil
}

// Remove deletes an agent from persistence and closes its connection.
func (m *Manager) Remove(agentURL string) error {
	if err := m.store.DeleteAgentByURL(agentURL); err != nil {
		return err
	}
	endpoint := db.EndpointFromURL(agentURL)
	m.mu.Lock()
	peer := m.peers[endpoint]
	delete(m.peers, endpoint)
	m.mu.Unlock()
	if peer != nil {
		peer.close()
	}
	return nil
}

func (m *Manager) connect(agentURL, endpoint, username, password string) {
	m.mu.Lock()
	if _, exists := m.peers[endpoint]; exists {
		m.mu.Unlock()
		return
	}
	peer := newPeer(m.session, agentURL, endpoint, username, password)
	m.peers[endpoint] = peer
	m.mu.Unlock()

	util.Debug("session %s connecting to agent %s", m.session.ID(), endpoint)
	peer.start()
}

// Close tears down every peer. Called on session disconnect.
func (m *Manager) Close() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()
	for _, peer := range peers {
		peer.close()
	}
}

// Peer returns the peer for an endpoint, or nil.
func (m *Manager) Peer(endpoint string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[endpoint]
}

// List builds the agentList payload: the local entry plus every peer.
func (m *Manager) List() map[string]AgentView {
	out := map[string]AgentView{
		"": {URL: "", Endpoint: "", Status: string(StatusOnline)},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for endpoint, peer := range m.peers {
		out[endpoint] = AgentView{
			URL:      peer.URL,
			Username: peer.Username,
			Endpoint: endpoint,
			Status:   string(peer.Status()),
		}
	}
	return out
}

// SendStatuses replays every peer's current status to the session, used
// right after login so the client can render the peer list.
func (m *Manager) SendStatuses() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		m.session.SendEvent("agentStatus", map[string]any{
			"endpoint": p.Endpoint(), "status": string(p.Status()),
		})
	}
}

// Route dispatches an event by endpoint key: empty (or this server's own
// endpoint) runs locally; the broadcast sentinel runs locally and on
// every online peer; anything else targets one peer, waiting up to the
// online window while it reconnects.
func (m *Manager) Route(ctx context.Context, endpoint, event string, args []json.RawMessage) (map[string]any, error) {
	if endpoint == "" {
		return m.local(event, args), nil
	}

	if endpoint == AllEndpoints {
		reply := m.local(event, args)
		m.mu.Lock()
		peers := make([]*Peer, 0, len(m.peers))
		for _, p := range m.peers {
			peers = append(peers, p)
		}
		m.mu.Unlock()
		for _, peer := range peers {
			if peer.Status() != StatusOnline {
				continue
			}
			go func(p *Peer) {
				if _, err := p.call(context.Background(), event, rawToAny(args)...); err != nil {
					util.Debug("broadcast %s to %s failed: %v", event, p.Endpoint(), err)
				}
			}(peer)
		}
		return reply, nil
	}

	peer := m.Peer(endpoint)
	if peer == nil {
		return nil, errors.AgentUnreachable(endpoint)
	}
	if err := peer.waitOnline(ctx); err != nil {
		return nil, err
	}
	return peer.call(ctx, event, rawToAny(args)...)
}

func rawToAny(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, raw := range args {
		out[i] = json.RawMessage(raw)
	}
	return out
}
