package server

import (
	"encoding/json"

	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/ws"
)

func (s *Server) handleGetSettings(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	settings, err := s.store.GetSettingsByType(db.SettingTypeGeneral)
	if err != nil {
		return nil, err
	}

	globalEnv, err := s.engine.GlobalEnv()
	if err != nil {
		return nil, err
	}
	settings["globalENV"] = globalEnv

	return map[string]any{"settings": settings}, nil
}

func (s *Server) handleSetSettings(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var data map[string]any
	var currentPassword string
	if err := ws.DecodeArgs(args, &data, &currentPassword); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New(errors.CategoryValidation, errors.CodeInvalidArgument,
			"Missing settings data")
	}

	// Turning auth off requires proving the current password.
	if wantsDisable, ok := data[db.SettingDisableAuth].(bool); ok && wantsDisable {
		currentlyDisabled, err := s.store.GetBoolSetting(db.SettingDisableAuth)
		if err != nil {
			return nil, err
		}
		if !currentlyDisabled {
			user, err := s.currentUser(c)
			if err != nil {
				return nil, err
			}
			if !auth.VerifyPassword(currentPassword, user.Password) {
				return nil, errors.IncorrectCredentials()
			}
		}
	}

	if globalEnv, ok := data["globalENV"].(string); ok {
		if err := s.engine.SaveGlobalEnv(globalEnv); err != nil {
			return nil, err
		}
		delete(data, "globalENV")
	}

	if err := s.store.SetSettingsByType(db.SettingTypeGeneral, data); err != nil {
		return nil, err
	}
	s.sendInfo(c)
	return map[string]any{"msg": "Saved"}, nil
}

func (s *Server) handleComposerize(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var command string
	if err := ws.DecodeArgs(args, &command); err != nil {
		return nil, err
	}

	yaml, err := Composerize(command)
	if err != nil {
		return nil, err
	}
	return map[string]any{"composeTemplate": yaml}, nil
}
