package server

import (
	"encoding/json"

	"github.com/griffithind/dockge/internal/agent"
	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/ws"
)

func (s *Server) handleNeedSetup(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	count, err := s.store.CountUsers()
	if err != nil {
		return nil, err
	}
	return map[string]any{"needSetup": count == 0}, nil
}

func (s *Server) handleSetup(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var username, password string
	if err := ws.DecodeArgs(args, &username, &password); err != nil {
		return nil, err
	}

	count, err := s.store.CountUsers()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New(errors.CategoryAuth, errors.CodeAuthAlreadySetup,
			"Dockge has been initialized. If you want to run setup again, please delete the database.")
	}
	if len(password) < auth.MinPasswordLength {
		return nil, errors.WeakPassword()
	}

	user, err := s.store.CreateUser(username, password)
	if err != nil {
		return nil, err
	}
	util.Info("created admin account %s", user.Username)

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	s.afterLogin(c, user)
	return map[string]any{"token": token}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (s *Server) handleLogin(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var req loginRequest
	if err := ws.DecodeArgs(args, &req); err != nil {
		return nil, err
	}

	if !s.loginLimiter.Allow(c.IP()) {
		return nil, errors.RateLimited()
	}

	user, err := s.store.FindUserByUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active || !auth.VerifyPassword(req.Password, user.Password) {
		return nil, errors.IncorrectCredentials()
	}

	if user.TwoFAStatus {
		if req.Token == "" {
			return map[string]any{"tokenRequired": true}, nil
		}
		if !s.twoFALimiter.Allow(c.IP()) {
			return nil, errors.RateLimited()
		}
		if req.Token == user.TwoFALastToken || !auth.ValidateTOTP(req.Token, user.TwoFASecret) {
			return nil, errors.New(errors.CategoryAuth, errors.CodeAuthIncorrect, "Invalid Token!")
		}
		if err := s.store.SetUserTwoFALastToken(user, req.Token); err != nil {
			return nil, err
		}
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	s.afterLogin(c, user)
	return map[string]any{"token": token}, nil
}

func (s *Server) handleLoginByToken(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var token string
	if err := ws.DecodeArgs(args, &token); err != nil {
		return nil, err
	}

	secret, err := s.store.JWTSecret()
	if err != nil {
		return nil, err
	}
	payload, err := auth.VerifyToken(token, secret)
	if err != nil {
		return nil, errors.InvalidToken()
	}

	user, err := s.store.FindUserByUsername(payload.Username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, errors.InvalidToken()
	}
	// The fingerprint ties the token to the password hash it was issued
	// against, so a password change revokes it.
	if auth.Shake256(user.Password, auth.Shake256Length) != payload.PasswordFingerprint {
		return nil, errors.InvalidToken()
	}

	s.afterLogin(c, user)
	return nil, nil
}

func (s *Server) handleLogout(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	if m := c.AgentManager(); m != nil {
		m.Close()
		c.SetAgentManager(nil)
	}
	c.SetUser(0, "")
	return nil, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var req changePasswordRequest
	if err := ws.DecodeArgs(args, &req); err != nil {
		return nil, err
	}

	user, err := s.currentUser(c)
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(req.CurrentPassword, user.Password) {
		return nil, errors.IncorrectCredentials()
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		return nil, errors.WeakPassword()
	}

	if err := s.store.UpdateUserPassword(user, req.NewPassword); err != nil {
		return nil, err
	}
	// Rotating the signing secret revokes every outstanding token.
	if err := s.store.RotateJWTSecret(); err != nil {
		return nil, err
	}
	// Other live sessions of this user must re-authenticate.
	s.hub.DisconnectOthers(c)

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	return map[string]any{"token": token}, nil
}

func (s *Server) handleDisconnectOthers(c *ws.Conn, _ []json.RawMessage) (map[string]any, error) {
	s.hub.DisconnectOthers(c)
	return nil, nil
}

func (s *Server) handlePrepare2FA(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var currentPassword string
	if err := ws.DecodeArgs(args, &currentPassword); err != nil {
		return nil, err
	}
	user, err := s.verifiedUser(c, currentPassword)
	if err != nil {
		return nil, err
	}
	if user.TwoFAStatus {
		return nil, errors.New(errors.CategoryAuth, errors.CodeInvalidArgument, "2FA is already enabled.")
	}

	secret, uri, err := auth.GenerateTOTPSecret(user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserTwoFA(user, secret, false); err != nil {
		return nil, err
	}
	return map[string]any{"uri": uri}, nil
}

func (s *Server) handleSave2FA(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var currentPassword string
	if err := ws.DecodeArgs(args, &currentPassword); err != nil {
		return nil, err
	}
	user, err := s.verifiedUser(c, currentPassword)
	if err != nil {
		return nil, err
	}
	if user.TwoFASecret == "" {
		return nil, errors.New(errors.CategoryAuth, errors.CodeInvalidArgument, "2FA is not prepared.")
	}
	if err := s.store.SetUserTwoFA(user, user.TwoFASecret, true); err != nil {
		return nil, err
	}
	return map[string]any{"msg": "2FA Enabled."}, nil
}

func (s *Server) handleDisable2FA(c *ws.Conn, args []json.RawMessage) (map[string]any, error) {
	var currentPassword string
	if err := ws.DecodeArgs(args, &currentPassword); err != nil {
		return nil, err
	}
	user, err := s.verifiedUser(c, currentPassword)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserTwoFA(user, "", false); err != nil {
		return nil, err
	}
	return map[string]any{"msg": "2FA Disabled."}, nil
}

// issueToken signs a bearer token bound to the user's current password
// hash.
func (s *Server) issueToken(user *db.User) (string, error) {
	secret, err := s.store.JWTSecret()
	if err != nil {
		return "", err
	}
	return auth.CreateToken(user.Username, user.Password, secret)
}

// afterLogin marks the session authenticated and brings up its
// federation peers.
func (s *Server) afterLogin(c *ws.Conn, user *db.User) {
	c.SetUser(user.ID, user.Username)

	manager := agent.NewManager(c, s.store, func(event string, args []json.RawMessage) map[string]any {
		return s.router.Call(c, event, args)
	})
	c.SetAgentManager(manager)
	if err := manager.ConnectAll(); err != nil {
		util.Warn("cannot connect agents for session %s: %v", c.ID(), err)
	}

	c.SendEvent("agentList", map[string]any{"ok": true, "agentList": manager.List()})
	manager.SendStatuses()
	go s.sendStackList(c)
}

// currentUser resolves the session's user record.
func (s *Server) currentUser(c *ws.Conn) (*db.User, error) {
	user, err := s.store.FindUserByID(c.UserID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NotLoggedIn()
	}
	return user, nil
}

// verifiedUser resolves the session's user and checks their password.
func (s *Server) verifiedUser(c *ws.Conn, password string) (*db.User, error) {
	user, err := s.currentUser(c)
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(password, user.Password) {
		return nil, errors.IncorrectCredentials()
	}
	return user, nil
}
