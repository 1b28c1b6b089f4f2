package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griffithind/dockge/internal/errors"
)

func rawArgs(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		require.NoError(t, err)
		out = append(out, encoded)
	}
	return out
}

func TestRouterAuthGuard(t *testing.T) {
	r := NewRouter()
	r.Handle("secret", func(c *Conn, args []json.RawMessage) (map[string]any, error) {
		return map[string]any{"value": 42}, nil
	})
	r.HandlePublic("login", func(c *Conn, args []json.RawMessage) (map[string]any, error) {
		return nil, nil
	})

	anon := &Conn{connected: true}

	reply := r.invoke(anon, Frame{Event: "secret"})
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "You are not logged in.", reply["msg"])

	reply = r.invoke(anon, Frame{Event: "login"})
	assert.Equal(t, true, reply["ok"])

	anon.SetUser(1, "admin")
	reply = r.invoke(anon, Frame{Event: "secret"})
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, 42, reply["value"])
}

func TestRouterUnknownEvent(t *testing.T) {
	r := NewRouter()
	c := &Conn{connected: true}
	c.SetUser(1, "admin")

	reply := r.invoke(c, Frame{Event: "nope"})
	assert.Equal(t, false, reply["ok"])
	assert.Contains(t, reply["msg"], "nope")
}

func TestRouterHandlerErrorBecomesReply(t *testing.T) {
	r := NewRouter()
	r.HandlePublic("boom", func(c *Conn, args []json.RawMessage) (map[string]any, error) {
		return nil, errors.OperationBusy()
	})

	reply := r.invoke(&Conn{connected: true}, Frame{Event: "boom"})
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "Another operation is already running, please try again later.", reply["msg"])
}

func TestRouterRecoversFromPanic(t *testing.T) {
	r := NewRouter()
	r.HandlePublic("panic", func(c *Conn, args []json.RawMessage) (map[string]any, error) {
		panic("kaboom")
	})

	reply := r.invoke(&Conn{connected: true}, Frame{Event: "panic"})
	assert.Equal(t, false, reply["ok"])
}

func TestDecodeArgs(t *testing.T) {
	var name string
	var count int
	err := DecodeArgs(rawArgs(t, "web", 3), &name, &count)
	require.NoError(t, err)
	assert.Equal(t, "web", name)
	assert.Equal(t, 3, count)

	// Missing trailing arguments stay at zero values.
	var flag bool
	err = DecodeArgs(rawArgs(t, "web"), &name, &flag)
	require.NoError(t, err)
	assert.False(t, flag)

	err = DecodeArgs(rawArgs(t, "web"), &count)
	assert.Error(t, err)
}
