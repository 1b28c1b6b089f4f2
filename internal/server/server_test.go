package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/ws"
)

type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	nextAck int64

	events []ws.Frame
}

func newTestServer(t *testing.T) (*Server, *db.Store) {
	t.Helper()
	store, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSecrets())

	cfg := Config{
		Hostname:  "127.0.0.1",
		Port:      5001,
		StacksDir: t.TempDir(),
		Version:   "1.5.0",
	}
	return New(cfg, store), store
}

func dialTestClient(t *testing.T, s *Server) *testClient {
	t.Helper()
	httpServer := httptest.NewServer(http.HandlerFunc(s.handleSocket))
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

// call sends a request and reads frames until its reply arrives,
// keeping any events seen on the way.
func (c *testClient) call(event string, args ...any) map[string]any {
	c.t.Helper()
	c.nextAck++
	ack := c.nextAck

	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		require.NoError(c.t, err)
		raw = append(raw, encoded)
	}
	require.NoError(c.t, c.conn.WriteJSON(ws.Frame{Event: event, Args: raw, Ack: ack}))

	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f ws.Frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if f.Ack == ack && f.Event == "" {
			reply, _ := f.Data.(map[string]any)
			return reply
		}
		if f.Event != "" {
			c.events = append(c.events, f)
		}
	}
}

// waitEvent reads frames until one with the given name arrives.
func (c *testClient) waitEvent(event string) ws.Frame {
	c.t.Helper()
	for _, f := range c.events {
		if f.Event == event {
			return f
		}
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f ws.Frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
		c.events = append(c.events, f)
	}
}

func TestFirstTimeSetupFlow(t *testing.T) {
	s, store := newTestServer(t)
	client := dialTestClient(t, s)

	// A fresh install pushes info and the setup prompt.
	client.waitEvent("info")
	client.waitEvent("setup")

	reply := client.call("needSetup")
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, true, reply["needSetup"])

	reply = client.call("setup", "admin", "hunter22!")
	require.Equal(t, true, reply["ok"], "setup reply: %v", reply)
	assert.NotEmpty(t, reply["token"])

	count, err := store.CountUsers()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	reply = client.call("needSetup")
	assert.Equal(t, false, reply["needSetup"])

	// Setup may only run once.
	reply = client.call("setup", "admin2", "password2")
	assert.Equal(t, false, reply["ok"])
}

func TestAuthGuardBeforeLogin(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("requestStackList")
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "You are not logged in.", reply["msg"])
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"], "login reply: %v", reply)
	token, _ := reply["token"].(string)
	require.NotEmpty(t, token)

	// A second session can resume with the token alone.
	second := dialTestClient(t, s)
	reply = second.call("loginByToken", token)
	assert.Equal(t, true, reply["ok"])

	reply = second.call("requestStackList")
	assert.Equal(t, true, reply["ok"])
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "wrong",
	})
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "Incorrect username or password.", reply["msg"])
}

func TestLoginRateLimit(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	// An unknown username keeps each attempt cheap so the bucket cannot
	// refill during the loop.
	client := dialTestClient(t, s)
	for i := 0; i < auth.LoginAttemptsPerMinute; i++ {
		reply := client.call("login", map[string]any{
			"username": "nobody", "password": "wrong",
		})
		require.Equal(t, false, reply["ok"])
		require.Equal(t, "Incorrect username or password.", reply["msg"], "attempt %d", i+1)
	}

	reply := client.call("login", map[string]any{
		"username": "nobody", "password": "wrong",
	})
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "Too frequently, try again later.", reply["msg"])
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])
	oldToken, _ := reply["token"].(string)

	reply = client.call("changePassword", map[string]any{
		"currentPassword": "password123", "newPassword": "new-password",
	})
	require.Equal(t, true, reply["ok"], "changePassword reply: %v", reply)
	newToken, _ := reply["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	second := dialTestClient(t, s)
	reply = second.call("loginByToken", oldToken)
	assert.Equal(t, false, reply["ok"])

	third := dialTestClient(t, s)
	reply = third.call("loginByToken", newToken)
	assert.Equal(t, true, reply["ok"])
}

func TestChangePasswordDisconnectsOtherSessions(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	first := dialTestClient(t, s)
	reply := first.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	second := dialTestClient(t, s)
	reply = second.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	reply = first.call("changePassword", map[string]any{
		"currentPassword": "password123", "newPassword": "new-password",
	})
	require.Equal(t, true, reply["ok"], "changePassword reply: %v", reply)

	// The other session of the same user is told to refresh and its
	// socket is closed.
	second.waitEvent("refresh")
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var readErr error
	for readErr == nil {
		var f ws.Frame
		readErr = second.conn.ReadJSON(&f)
	}
	assert.NotContains(t, readErr.Error(), "timeout")
}

func TestSetSettingsDisableAuthNeedsPassword(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	reply = client.call("setSettings", map[string]any{"disableAuth": true})
	assert.Equal(t, false, reply["ok"])

	reply = client.call("setSettings", map[string]any{"disableAuth": true}, "password123")
	assert.Equal(t, true, reply["ok"])

	disabled, err := store.GetBoolSetting(db.SettingDisableAuth)
	require.NoError(t, err)
	assert.True(t, disabled)
}

func TestGetSettingsIncludesGlobalEnv(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	reply = client.call("getSettings")
	require.Equal(t, true, reply["ok"])
	settings, _ := reply["settings"].(map[string]any)
	require.NotNil(t, settings)
	assert.Contains(t, settings, "globalENV")
}

func TestSaveAndGetStackOverSocket(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	composeYAML := "services:\n  web:\n    image: nginx:alpine\n"
	reply = client.call("saveStack", "web", composeYAML, "PORT=80\n", true)
	require.Equal(t, true, reply["ok"], "saveStack reply: %v", reply)

	reply = client.call("getStack", "web")
	require.Equal(t, true, reply["ok"])
	stackView, _ := reply["stack"].(map[string]any)
	require.NotNil(t, stackView)
	assert.Equal(t, composeYAML, stackView["composeYAML"])
	assert.Equal(t, "PORT=80\n", stackView["composeENV"])
	assert.Equal(t, true, stackView["isManagedByDockge"])

	reply = client.call("saveStack", "In valid", composeYAML, "", true)
	assert.Equal(t, false, reply["ok"])
}

func TestMainTerminalGatedByConsoleFlag(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	reply = client.call("checkMainTerminal")
	require.Equal(t, true, reply["ok"])
	assert.Equal(t, false, reply["enabled"])

	reply = client.call("mainTerminal")
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "Console is not enabled.", reply["msg"])
}

func TestAgentRouteLocalDispatch(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	client := dialTestClient(t, s)
	reply := client.call("login", map[string]any{
		"username": "admin", "password": "password123",
	})
	require.Equal(t, true, reply["ok"])

	reply = client.call("agent", "", "requestStackList")
	assert.Equal(t, true, reply["ok"])

	reply = client.call("agent", "nowhere:5001", "requestStackList")
	assert.Equal(t, false, reply["ok"])
}

func TestRobotsTxt(t *testing.T) {
	rec := httptest.NewRecorder()
	handleRobots(rec, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))
	assert.Equal(t, "User-agent: *\nDisallow: /", rec.Body.String())
}

func TestStaticHandlerPrefersBrotli(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>plain</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html.br"), []byte("brotli-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("js"), 0o644))

	s, _ := newTestServer(t)
	s.cfg.FrontendDir = dir
	handler := s.staticHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "brotli-bytes", rec.Body.String())

	// No Accept-Encoding falls back to the plain file.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "<html>plain</html>", rec.Body.String())

	// Hashed assets are immutable; SPA routes fall back to index.html.
	req = httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))

	req = httptest.NewRequest(http.MethodGet, "/stacks/web", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "<html>plain</html>", rec.Body.String())
}

func TestCombinedStackName(t *testing.T) {
	name, ok := combinedStackName("combined--web")
	assert.True(t, ok)
	assert.Equal(t, "web", name)

	_, ok = combinedStackName("compose--web")
	assert.False(t, ok)
}
