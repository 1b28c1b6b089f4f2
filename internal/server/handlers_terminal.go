package server

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/terminal"
	"github.com/griffithind/dockge/internal/ws"
)

func (s *Server) handleTerminalInput(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var name, data string
	if err := ws.DecodeArgs(args, &name, &data); err != nil {
		return nil, err
	}

	t := s.registry.Get(name)
	if t == nil {
		return nil, errors.TerminalNotFound(name)
	}
	if err := t.Write(c.ID(), data); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleMainTerminal joins the session to the global shell, spawning it
// on first use. Gated by --enable-console.
func (s *Server) handleMainTerminal(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	if !s.cfg.EnableConsole {
		return nil, errors.ConsoleDisabled()
	}

	name := terminal.MainTerminalName
	factory := func() *terminal.Terminal {
		return terminal.New(name, terminal.MainShell, 50, terminal.DefaultCols)
	}
	t, created := s.registry.GetOrCreate(name, factory)
	if !created && t.Drained() {
		s.registry.Remove(name)
		t, created = s.registry.GetOrCreate(name, factory)
	}
	buffer := t.Join(c)
	if created {
		if err := t.Start(loginShell(), nil, s.cfg.StacksDir); err != nil {
			s.registry.Remove(name)
			return nil, err
		}
	}
	return map[string]any{"buffer": buffer}, nil
}

func (s *Server) handleCheckMainTerminal(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	return map[string]any{"enabled": s.cfg.EnableConsole}, nil
}

// handleInteractiveTerminal opens a shell inside a service container.
func (s *Server) handleInteractiveTerminal(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var stackName, service, shell string
	if err := ws.DecodeArgs(args, &stackName, &service, &shell); err != nil {
		return nil, err
	}
	if shell == "" {
		shell = "sh"
	}

	st, err := s.engine.Get(stackName)
	if err != nil {
		return nil, err
	}

	name := terminal.ContainerExecTerminalName("", stackName, service, 0)
	factory := func() *terminal.Terminal {
		return terminal.New(name, terminal.Interactive, terminal.CombinedRows, terminal.CombinedCols)
	}
	t, created := s.registry.GetOrCreate(name, factory)
	if !created && t.Drained() {
		s.registry.Remove(name)
		t, created = s.registry.GetOrCreate(name, factory)
	}
	buffer := t.Join(c)
	if created {
		t.SetOwner(c.ID())
		args := []string{"compose", "exec", service, shell}
		if err := t.Start("docker", args, st.Dir()); err != nil {
			s.registry.Remove(name)
			return nil, err
		}
	}
	return map[string]any{"buffer": buffer}, nil
}

func (s *Server) handleTerminalJoin(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var name string
	if err := ws.DecodeArgs(args, &name); err != nil {
		return nil, err
	}

	// Joining a combined-… name starts the log tail on demand.
	if stackName, ok := combinedStackName(name); ok {
		st, err := s.engine.Get(stackName)
		if err != nil {
			return nil, err
		}
		_, buffer, err := s.engine.JoinCombinedLogs(st, c)
		if err != nil {
			return nil, err
		}
		return map[string]any{"buffer": buffer}, nil
	}

	t := s.registry.Get(name)
	if t == nil {
		return nil, errors.TerminalNotFound(name)
	}
	return map[string]any{"buffer": t.Join(c)}, nil
}

func (s *Server) handleLeaveCombinedTerminal(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var stackName string
	if err := ws.DecodeArgs(args, &stackName); err != nil {
		return nil, err
	}
	st, err := s.engine.Get(stackName)
	if err != nil {
		return nil, err
	}
	s.engine.LeaveCombinedLogs(st, c.ID())
	return nil, nil
}

func (s *Server) handleTerminalResize(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var name string
	var rows, cols int
	if err := ws.DecodeArgs(args, &name, &rows, &cols); err != nil {
		return nil, err
	}

	t := s.registry.Get(name)
	if t == nil {
		return nil, errors.TerminalNotFound(name)
	}
	if err := t.Resize(rows, cols); err != nil {
		return nil, err
	}
	return nil, nil
}

// combinedStackName extracts the stack name from a local combined-…
// terminal name.
func combinedStackName(terminalName string) (string, bool) {
	const prefix = "combined--"
	if len(terminalName) > len(prefix) && terminalName[:len(prefix)] == prefix {
		return terminalName[len(prefix):], true
	}
	return "", false
}

// loginShell picks the operator shell for the console terminal.
func loginShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}
