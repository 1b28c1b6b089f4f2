package server

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/griffithind/dockge/internal/agent"
	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/ws"
)

// sessionAgents resolves the session's federation manager.
func (s *Server) sessionAgents(c *ws.Conn) (*agent.Manager, error) {
	m, ok := c.AgentManager().(*agent.Manager)
	if !ok || m == nil {
		return nil, errors.NotLoggedIn()
	}
	return m, nil
}

type addAgentRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAddAgent(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var req addAgentRequest
	if err := ws.DecodeArgs(args, &req); err != nil {
		return nil, err
	}

	m, err := s.sessionAgents(c)
	if err != nil {
		return nil, err
	}
	if err := m.Add(req.URL, req.Username, req.Password); err != nil {
		return nil, err
	}

	c.SendEvent("agentList", map[string]any{"ok": true, "agentList": m.List()})
	return map[string]any{"msg": "Added"}, nil
}

func (s *Server) handleRemoveAgent(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var url string
	if err := ws.DecodeArgs(args, &url); err != nil {
		return nil, err
	}

	m, err := s.sessionAgents(c)
	if err != nil {
		return nil, err
	}
	if err := m.Remove(url); err != nil {
		return nil, err
	}

	c.SendEvent("agentList", map[string]any{"ok": true, "agentList": m.List()})
	return map[string]any{"msg": "Removed"}, nil
}

// handleAgentRoute is the federation wrapper: agent(endpoint, event,
// …args) routes to this server, one peer, or everywhere.
func (s *Server) handleAgentRoute(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var endpoint, event string
	if err := ws.DecodeArgs(args, &endpoint, &event); err != nil {
		return nil, err
	}
	if event == "" {
		return nil, errors.New(errors.CategoryValidation, errors.CodeInvalidArgument,
			"Missing event name")
	}

	m, err := s.sessionAgents(c)
	if err != nil {
		return nil, err
	}

	// A client may address this server by its own endpoint tag.
	if endpoint == s.ownEndpoint() {
		endpoint = ""
	}

	var rest []json.RawMessage
	if len(args) > 2 {
		rest = args[2:]
	}
	return m.Route(context.Background(), endpoint, event, rest)
}

// ownEndpoint is the host:port tag clients may use to address this
// server explicitly.
func (s *Server) ownEndpoint() string {
	hostname := s.cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	return hostname + ":" + strconv.Itoa(s.cfg.Port)
}
