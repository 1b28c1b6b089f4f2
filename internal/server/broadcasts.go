package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/stack"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/ws"
)

const (
	stackListInterval    = 10 * time.Second
	versionCheckInterval = 48 * time.Hour
	cacheSweepInterval   = 60 * time.Second

	versionURL     = "https://dockge.kuma.pet/version"
	versionTimeout = 5 * time.Second
)

// runBroadcasts drives the periodic tasks: the stack list push, the
// update check and the settings cache sweep. The terminal sweep runs on
// the registry's own ticker.
func (s *Server) runBroadcasts(ctx context.Context) {
	stackTicker := time.NewTicker(stackListInterval)
	versionTicker := time.NewTicker(versionCheckInterval)
	sweepTicker := time.NewTicker(cacheSweepInterval)
	defer stackTicker.Stop()
	defer versionTicker.Stop()
	defer sweepTicker.Stop()

	s.checkVersion(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stackTicker.C:
			s.broadcastStackList(ctx)
		case <-versionTicker.C:
			s.checkVersion(ctx)
		case <-sweepTicker.C:
			s.store.Cache().Sweep()
		}
	}
}

// stackListPayload computes the agent-wrapped stackList event payload.
func (s *Server) stackListPayload(ctx context.Context) (map[string]any, error) {
	stacks, err := s.engine.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "stackList": stack.SimpleList(stacks)}, nil
}

// broadcastStackList pushes the local stack list to every authenticated
// session, wrapped as an event from the local endpoint.
func (s *Server) broadcastStackList(ctx context.Context) {
	if s.hub.Count() == 0 {
		return
	}
	payload, err := s.stackListPayload(ctx)
	if err != nil {
		util.Warn("cannot compute stack list: %v", err)
		return
	}
	s.hub.ForEach(func(c *ws.Conn) {
		if c.Authenticated() {
			c.SendEvent("agent", "", "stackList", payload)
		}
	})
}

// sendStackList pushes the stack list to a single session.
func (s *Server) sendStackList(c *ws.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), composeExecTimeout)
	defer cancel()

	payload, err := s.stackListPayload(ctx)
	if err != nil {
		util.Warn("cannot compute stack list: %v", err)
		return
	}
	c.SendEvent("agent", "", "stackList", payload)
}

// scheduleStackListBroadcast pushes a fresh list soon after a lifecycle
// operation, without waiting for the next tick.
func (s *Server) scheduleStackListBroadcast() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), composeExecTimeout)
		defer cancel()
		s.broadcastStackList(ctx)
	}()
}

// sendInfo pushes the server info payload to one session.
func (s *Server) sendInfo(c *ws.Conn) {
	var latestVersion, primaryHostname string
	if err := s.store.GetSetting(db.SettingLatestVersion, &latestVersion); err != nil {
		util.Debug("cannot read latestVersion: %v", err)
	}
	if err := s.store.GetSetting(db.SettingPrimaryHostname, &primaryHostname); err != nil {
		util.Debug("cannot read primaryHostname: %v", err)
	}

	c.SendEvent("info", map[string]any{
		"version":         s.cfg.Version,
		"latestVersion":   latestVersion,
		"isContainer":     s.cfg.IsContainer,
		"primaryHostname": primaryHostname,
	})
}

// checkVersion fetches the latest published version and persists it.
// Failure is logged and ignored; the next tick retries.
func (s *Server) checkVersion(ctx context.Context) {
	enabled, err := s.store.GetBoolSettingDefault(db.SettingCheckUpdate, true)
	if err != nil || !enabled {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, versionURL, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		util.Debug("version check failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var doc struct {
		Stable string `json:"slim"`
		Latest string `json:"latest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		util.Debug("version check returned bad payload: %v", err)
		return
	}
	latest := doc.Latest
	if latest == "" {
		latest = doc.Stable
	}
	if latest == "" {
		return
	}

	if err := s.store.SetSetting(db.SettingLatestVersion, latest, ""); err != nil {
		util.Warn("cannot persist latestVersion: %v", err)
		return
	}
	s.hub.ForEach(func(c *ws.Conn) { s.sendInfo(c) })
}
