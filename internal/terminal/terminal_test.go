package terminal

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber records events delivered to it.
type fakeSubscriber struct {
	mu        sync.Mutex
	id        string
	connected bool
	writes    []string
	exits     []int
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, connected: true}
}

func (f *fakeSubscriber) ID() string      { return f.id }
func (f *fakeSubscriber) Connected() bool { return f.connected }

func (f *fakeSubscriber) SendTerminalWrite(name, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
}

func (f *fakeSubscriber) SendTerminalExit(name string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits = append(f.exits, code)
}

func (f *fakeSubscriber) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out string
	for _, w := range f.writes {
		out += w
	}
	return out
}

func TestTerminalNames(t *testing.T) {
	assert.Equal(t, "compose--web", ComposeTerminalName("", "web"))
	assert.Equal(t, "compose-node2:5001-web", ComposeTerminalName("node2:5001", "web"))
	assert.Equal(t, "combined--web", CombinedTerminalName("", "web"))
	assert.Equal(t, "container-exec--web-db-0", ContainerExecTerminalName("", "web", "db", 0))
	assert.Equal(t, "console", MainTerminalName)
}

func TestJoinDeliversSnapshotBeforeLiveOutput(t *testing.T) {
	term := New("test", OneShot, DefaultRows, DefaultCols)
	term.append("one")
	term.append("two")

	sub := newFakeSubscriber("s1")
	buffer := term.Join(sub)
	assert.Equal(t, "onetwo", buffer)
	assert.Empty(t, sub.writes)

	term.append("three")
	assert.Equal(t, "three", sub.output())
}

func TestLeaveStopsDelivery(t *testing.T) {
	term := New("test", OneShot, DefaultRows, DefaultCols)
	sub := newFakeSubscriber("s1")
	term.Join(sub)
	term.append("a")
	term.Leave("s1")
	term.append("b")

	assert.Equal(t, "a", sub.output())
	assert.Equal(t, 0, term.SubscriberCount())
}

func TestOneShotRejectsInput(t *testing.T) {
	term := New("test", OneShot, DefaultRows, DefaultCols)
	err := term.Write("s1", "ls\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not interactive")
}

func TestInteractiveInputLimitedToOwner(t *testing.T) {
	term := New("exec", Interactive, DefaultRows, DefaultCols)
	term.SetOwner("s1")

	err := term.Write("s2", "whoami\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another session")

	// The owner clears the ownership check; only the missing subprocess
	// stops this write.
	err = term.Write("s1", "whoami\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResizeRejectsNonPositive(t *testing.T) {
	term := New("test", Interactive, DefaultRows, DefaultCols)
	assert.Error(t, term.Resize(0, 80))
	assert.Error(t, term.Resize(24, -1))
	assert.NoError(t, term.Resize(24, 80))
}

func TestTerminalRunsSubprocess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PTY test requires POSIX")
	}

	term := New("test-run", OneShot, DefaultRows, DefaultCols)
	sub := newFakeSubscriber("s1")
	term.Join(sub)

	require.NoError(t, term.Start("sh", []string{"-c", "printf hello"}, t.TempDir()))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if term.Drained() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.True(t, term.Drained())
	assert.Equal(t, 0, term.ExitCode())
	assert.Contains(t, term.Buffer(), "hello")
	assert.Contains(t, sub.output(), "hello")

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []int{0}, sub.exits)
}

func TestExecCollectsOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell")
	}

	var sink bytes.Buffer
	code, err := Exec(context.Background(), &sink, "sh", []string{"-c", "printf out; exit 3"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "out", sink.String())
}

func TestRegistryUniqueNames(t *testing.T) {
	reg := NewRegistry()

	first, created := reg.GetOrCreate("compose--web", func() *Terminal {
		return New("compose--web", OneShot, DefaultRows, DefaultCols)
	})
	require.True(t, created)

	second, created := reg.GetOrCreate("compose--web", func() *Terminal {
		t.Fatal("factory must not run for an existing name")
		return nil
	})
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	reg.GetOrCreate("a", func() *Terminal { return New("a", OneShot, 10, 80) })
	reg.Remove("a")
	assert.Nil(t, reg.Get("a"))
	assert.Equal(t, 0, reg.Count())
}

func TestCleanupPrunesDisconnectedSubscribers(t *testing.T) {
	reg := NewRegistry()
	term, _ := reg.GetOrCreate("a", func() *Terminal { return New("a", OneShot, 10, 80) })

	sub := newFakeSubscriber("s1")
	term.Join(sub)
	sub.connected = false

	reg.CleanupTick()
	assert.Equal(t, 0, term.SubscriberCount())
}

func TestCleanupGrantsFullGraceAfterPrune(t *testing.T) {
	reg := NewRegistry()
	term, _ := reg.GetOrCreate("a", func() *Terminal { return New("a", OneShot, 10, 80) })

	sub := newFakeSubscriber("s1")
	term.Join(sub)
	term.mu.Lock()
	term.emptySince = time.Now().Add(-2 * CleanupInterval)
	term.mu.Unlock()
	sub.connected = false

	// The tick that prunes the last subscriber must not reclaim the
	// terminal on the same pass.
	reg.CleanupTick()
	assert.Equal(t, 0, term.SubscriberCount())
	require.NotNil(t, reg.Get("a"))

	// Once the set has stayed empty for a full interval, the next tick
	// reclaims it.
	term.mu.Lock()
	term.emptySince = time.Now().Add(-CleanupInterval)
	term.mu.Unlock()
	reg.CleanupTick()
	assert.Nil(t, reg.Get("a"))
}

func TestCleanupNeverReclaimsUnstartedWithSubscribers(t *testing.T) {
	reg := NewRegistry()
	term, _ := reg.GetOrCreate("a", func() *Terminal { return New("a", OneShot, 10, 80) })
	term.Join(newFakeSubscriber("s1"))

	reg.CleanupTick()
	assert.NotNil(t, reg.Get("a"))
}
