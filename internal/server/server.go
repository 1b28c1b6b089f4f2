// Package server wires the HTTP surface, the socket protocol and the
// request handlers together.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/stack"
	"github.com/griffithind/dockge/internal/terminal"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/ws"
)

// Config is the server's launch configuration.
type Config struct {
	Hostname      string
	Port          int
	DataDir       string
	StacksDir     string
	EnableConsole bool

	Version     string
	IsContainer bool
	FrontendDir string
}

// Server is the long-running control plane process.
type Server struct {
	cfg      Config
	store    *db.Store
	engine   *stack.Engine
	registry *terminal.Registry
	hub      *ws.Hub
	router   *ws.Router

	loginLimiter *auth.RateLimiter
	twoFALimiter *auth.RateLimiter

	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a server over an opened store.
func New(cfg Config, store *db.Store) *Server {
	registry := terminal.NewRegistry()
	s := &Server{
		cfg:          cfg,
		store:        store,
		engine:       stack.NewEngine(cfg.StacksDir, registry),
		registry:     registry,
		hub:          ws.NewHub(),
		router:       ws.NewRouter(),
		loginLimiter: auth.NewLoginRateLimiter(),
		twoFALimiter: auth.NewTwoFARateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser client may be served from another origin in
			// development setups.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerHandlers()
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", s.handleSocket)
	mux.HandleFunc("/robots.txt", handleRobots)
	mux.Handle("/", s.staticHandler())

	addr := net.JoinHostPort(s.cfg.Hostname, fmt.Sprintf("%d", s.cfg.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", addr, err)
	}

	s.registry.StartCleanup(ctx)
	go s.runBroadcasts(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()
	util.Info("dockge %s listening on %s", s.cfg.Version, addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// handleSocket upgrades a client connection and pumps its frames
// through the router until disconnect.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Debug("websocket upgrade failed: %v", err)
		return
	}

	trustProxy, _ := s.store.GetBoolSetting(db.SettingTrustProxy)
	conn := ws.NewConn(wsConn, r, trustProxy)
	s.hub.Add(conn)
	util.Debug("session %s connected from %s", conn.ID(), conn.IP())

	defer func() {
		conn.Close()
		s.hub.Remove(conn.ID())
		util.Debug("session %s disconnected", conn.ID())
	}()

	s.sendInfo(conn)
	s.sendSetupStateOrAutoLogin(conn)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if frame.Event == "" {
			continue
		}
		s.router.Dispatch(conn, frame)
	}
}

// sendSetupStateOrAutoLogin pushes the setup prompt on a fresh install,
// or auto-login when auth is disabled.
func (s *Server) sendSetupStateOrAutoLogin(conn *ws.Conn) {
	count, err := s.store.CountUsers()
	if err != nil {
		util.Error("cannot count users: %v", err)
		return
	}
	if count == 0 {
		conn.SendEvent("setup")
		return
	}

	disabled, _ := s.store.GetBoolSetting(db.SettingDisableAuth)
	if disabled {
		user, err := s.store.FirstActiveUser()
		if err != nil || user == nil {
			return
		}
		s.afterLogin(conn, user)
		conn.SendEvent("autoLogin")
	}
}

// registerHandlers installs the full event surface.
func (s *Server) registerHandlers() {
	r := s.router

	// Identity.
	r.HandlePublic("needSetup", s.handleNeedSetup)
	r.HandlePublic("setup", s.handleSetup)
	r.HandlePublic("login", s.handleLogin)
	r.HandlePublic("loginByToken", s.handleLoginByToken)
	r.Handle("logout", s.handleLogout)
	r.Handle("changePassword", s.handleChangePassword)
	r.Handle("disconnectOtherSocketClients", s.handleDisconnectOthers)
	r.Handle("prepare2FA", s.handlePrepare2FA)
	r.Handle("save2FA", s.handleSave2FA)
	r.Handle("disable2FA", s.handleDisable2FA)

	// Settings.
	r.Handle("getSettings", s.handleGetSettings)
	r.Handle("setSettings", s.handleSetSettings)
	r.Handle("composerize", s.handleComposerize)

	// Stacks. These are also reachable through the agent wrapper.
	r.Handle("deployStack", s.handleDeployStack)
	r.Handle("saveStack", s.handleSaveStack)
	r.Handle("deleteStack", s.handleDeleteStack)
	r.Handle("getStack", s.handleGetStack)
	r.Handle("requestStackList", s.handleRequestStackList)
	r.Handle("startStack", s.handleStartStack)
	r.Handle("stopStack", s.handleStopStack)
	r.Handle("restartStack", s.handleRestartStack)
	r.Handle("updateStack", s.handleUpdateStack)
	r.Handle("downStack", s.handleDownStack)
	r.Handle("serviceStatusList", s.handleServiceStatusList)
	r.Handle("getDockerNetworkList", s.handleDockerNetworkList)

	// Terminals.
	r.Handle("terminalInput", s.handleTerminalInput)
	r.Handle("mainTerminal", s.handleMainTerminal)
	r.Handle("checkMainTerminal", s.handleCheckMainTerminal)
	r.Handle("interactiveTerminal", s.handleInteractiveTerminal)
	r.Handle("terminalJoin", s.handleTerminalJoin)
	r.Handle("leaveCombinedTerminal", s.handleLeaveCombinedTerminal)
	r.Handle("terminalResize", s.handleTerminalResize)

	// Federation.
	r.Handle("addAgent", s.handleAddAgent)
	r.Handle("removeAgent", s.handleRemoveAgent)
	r.Handle("agent", s.handleAgentRoute)
}

func handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "User-agent: *\nDisallow: /")
}
