package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/stack"
	"github.com/griffithind/dockge/internal/terminal"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/ws"
)

const composeExecTimeout = 60 * time.Second

func (s *Server) handleDeployStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var name, composeYAML, composeENV string
	var isAdd bool
	if err := ws.DecodeArgs(args, &name, &composeYAML, &composeENV, &isAdd); err != nil {
		return nil, err
	}

	st, err := s.engine.Save(name, composeYAML, composeENV, isAdd)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Deploy(st, c); err != nil {
		return nil, err
	}
	s.scheduleStackListBroadcast()
	return map[string]any{"msg": "Deployed"}, nil
}

func (s *Server) handleSaveStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var name, composeYAML, composeENV string
	var isAdd bool
	if err := ws.DecodeArgs(args, &name, &composeYAML, &composeENV, &isAdd); err != nil {
		return nil, err
	}

	if _, err := s.engine.Save(name, composeYAML, composeENV, isAdd); err != nil {
		return nil, err
	}
	s.scheduleStackListBroadcast()
	return map[string]any{"msg": "Saved"}, nil
}

func (s *Server) handleDeleteStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	st, err := s.stackArg(args)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Delete(st, c); err != nil {
		return nil, err
	}
	s.scheduleStackListBroadcast()
	return map[string]any{"msg": "Deleted"}, nil
}

func (s *Server) handleGetStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	st, err := s.stackArg(args)
	if err != nil {
		return nil, err
	}
	st.SetStatus(s.currentStatus(st))

	var primaryHostname string
	if err := s.store.GetSetting(db.SettingPrimaryHostname, &primaryHostname); err != nil {
		util.Warn("cannot read primaryHostname: %v", err)
	}

	view, err := st.Full(primaryHostname)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stack": view}, nil
}

func (s *Server) handleRequestStackList(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	go s.sendStackList(c)
	return map[string]any{"msg": "Updated"}, nil
}

func (s *Server) handleStartStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	return s.lifecycleOp(c, args, s.engine.Start, "Started")
}

func (s *Server) handleStopStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	return s.lifecycleOp(c, args, s.engine.Stop, "Stopped")
}

func (s *Server) handleRestartStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	return s.lifecycleOp(c, args, s.engine.Restart, "Restarted")
}

func (s *Server) handleDownStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	return s.lifecycleOp(c, args, s.engine.Down, "Downed")
}

func (s *Server) handleUpdateStack(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	st, err := s.stackArg(args)
	if err != nil {
		return nil, err
	}
	wasRunning := s.currentStatus(st) == stack.StatusRunning
	if _, err := s.engine.Update(st, wasRunning, c); err != nil {
		return nil, err
	}
	s.scheduleStackListBroadcast()
	return map[string]any{"msg": "Updated"}, nil
}

func (s *Server) handleServiceStatusList(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	st, err := s.stackArg(args)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), composeExecTimeout)
	defer cancel()

	statuses, err := s.engine.ServiceStatusList(ctx, st)
	if err != nil {
		return nil, err
	}
	return map[string]any{"serviceStatusList": statuses}, nil
}

func (s *Server) handleDockerNetworkList(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), composeExecTimeout)
	defer cancel()

	networks, err := s.engine.DockerNetworkList(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"dockerNetworkList": networks}, nil
}

// lifecycleOp runs one verb against a named stack and schedules a list
// broadcast.
func (s *Server) lifecycleOp(c *ws.Conn, args []json.RawMessage,
	op func(*stack.Stack, terminal.Subscriber) (string, error), msg string) (map[string]any, error) {

	st, err := s.stackArg(args)
	if err != nil {
		return nil, err
	}
	if _, err := op(st, c); err != nil {
		return nil, err
	}
	s.scheduleStackListBroadcast()
	return map[string]any{"msg": msg}, nil
}

func (s *Server) stackArg(args []json.RawMessage) (*stack.Stack, error) {
	var name string
	if err := ws.DecodeArgs(args, &name); err != nil {
		return nil, err
	}
	return s.engine.Get(name)
}

// currentStatus derives a stack's status from a fresh listing.
func (s *Server) currentStatus(st *stack.Stack) stack.Status {
	ctx, cancel := context.WithTimeout(context.Background(), composeExecTimeout)
	defer cancel()

	stacks, err := s.engine.List(ctx)
	if err != nil {
		return stack.StatusUnknown
	}
	if listed, ok := stacks[st.Name]; ok {
		return listed.Status()
	}
	return stack.StatusCreatedFile
}
