// Package terminal implements the PTY terminal fabric: named
// pseudo-terminals fronting subprocesses, with bounded scrollback and
// multi-subscriber fan-out.
package terminal

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
)

// Kind classifies a terminal by its input policy.
type Kind int

const (
	// OneShot terminals accept no input (compose up/down/pull/logs).
	OneShot Kind = iota
	// Interactive terminals accept input (docker compose exec).
	Interactive
	// MainShell is the operator's login shell rooted at the stacks dir.
	MainShell
)

// BufferCapacity is the scrollback depth in chunks.
const BufferCapacity = 100

const readChunkSize = 4096

// Subscriber receives terminal output events. Sessions implement this.
type Subscriber interface {
	ID() string
	Connected() bool
	SendTerminalWrite(terminalName string, data string)
	SendTerminalExit(terminalName string, exitCode int)
}

// Terminal is a named PTY + subprocess + subscriber set.
type Terminal struct {
	name string
	kind Kind

	mu     sync.Mutex
	rows   uint16
	cols   uint16
	buffer *LimitQueue[string]
	subs   map[string]Subscriber

	cmd      *exec.Cmd
	ptmx     *os.File
	started  bool
	exited   bool
	exitCode int

	// owner is the session allowed to send input to an Interactive
	// terminal. Empty means unrestricted.
	owner string

	// emptySince tracks when the subscriber set last became empty, for
	// the registry cleanup tick.
	emptySince time.Time

	done chan struct{}
}

// New creates a terminal. It does not spawn anything until Start.
func New(name string, kind Kind, rows, cols uint16) *Terminal {
	return &Terminal{
		name:       name,
		kind:       kind,
		rows:       rows,
		cols:       cols,
		buffer:     NewLimitQueue[string](BufferCapacity),
		subs:       make(map[string]Subscriber),
		emptySince: time.Now(),
		done:       make(chan struct{}),
	}
}

// Name returns the registry key.
func (t *Terminal) Name() string { return t.name }

// Kind returns the terminal kind.
func (t *Terminal) Kind() Kind { return t.kind }

// Start spawns the subprocess under a fresh PTY and begins pumping
// output to the buffer and subscribers. It may be called at most once.
func (t *Terminal) Start(program string, args []string, cwd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.OperationBusy()
	}

	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: t.rows, Cols: t.cols})
	if err != nil {
		return errors.Wrapf(err, errors.CategoryTerminal, errors.CodeInternal,
			"failed to start %s", program)
	}

	t.cmd = cmd
	t.ptmx = ptmx
	t.started = true

	go t.readLoop()
	return nil
}

// readLoop pumps PTY output into the buffer and every subscriber until
// the subprocess exits, then emits a single exit event.
func (t *Terminal) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			t.append(string(buf[:n]))
		}
		if err != nil {
			break
		}
	}

	exitCode := 0
	if err := t.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	t.ptmx.Close()

	t.mu.Lock()
	t.exited = true
	t.exitCode = exitCode
	subs := t.subscriberList()
	t.mu.Unlock()
	close(t.done)

	util.Debug("terminal %s exited with code %d", t.name, exitCode)
	for _, s := range subs {
		s.SendTerminalExit(t.name, exitCode)
	}
}

// append records a chunk and fans it out. Buffer append and fan-out share
// the mutex with Join so a joining subscriber never sees bytes out of
// order across the snapshot boundary.
func (t *Terminal) append(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer.Push(chunk)
	for _, s := range t.subs {
		s.SendTerminalWrite(t.name, chunk)
	}
}

// Join adds a subscriber and returns the scrollback, oldest first, as a
// single concatenated blob.
func (t *Terminal) Join(sub Subscriber) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sub.ID()] = sub
	return strings.Join(t.buffer.Snapshot(), "")
}

// Leave removes a subscriber.
func (t *Terminal) Leave(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, subID)
	if len(t.subs) == 0 {
		t.emptySince = time.Now()
	}
}

// SetOwner restricts Interactive input to a single session.
func (t *Terminal) SetOwner(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owner = subID
}

// Write sends input from a session to the subprocess. OneShot terminals
// reject input, and an owned Interactive terminal rejects input from
// every other session.
func (t *Terminal) Write(subID, data string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind == OneShot {
		return errors.TerminalNotInteractive()
	}
	if t.kind == Interactive && t.owner != "" && subID != t.owner {
		return errors.TerminalNotOwned()
	}
	if !t.started || t.exited {
		return errors.TerminalNotFound(t.name)
	}
	_, err := t.ptmx.WriteString(data)
	return err
}

// Resize updates the PTY dimensions. Rows and cols must be positive.
func (t *Terminal) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return errors.Newf(errors.CategoryValidation, errors.CodeInvalidArgument,
			"invalid terminal size %dx%d", rows, cols)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = uint16(rows)
	t.cols = uint16(cols)
	if t.started && !t.exited {
		return pty.Setsize(t.ptmx, &pty.Winsize{Rows: t.rows, Cols: t.cols})
	}
	return nil
}

// Buffer returns the scrollback as one blob without joining.
func (t *Terminal) Buffer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.buffer.Snapshot(), "")
}

// Running reports whether the subprocess is alive.
func (t *Terminal) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.exited
}

// Drained reports whether the subprocess has exited.
func (t *Terminal) Drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// ExitCode returns the subprocess exit code once drained.
func (t *Terminal) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Wait blocks until the subprocess exits or ctx is done.
func (t *Terminal) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Subscribers returns the current subscriber set.
func (t *Terminal) Subscribers() []Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscriberList()
}

// SubscriberCount returns the size of the subscriber set.
func (t *Terminal) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// pruneDisconnected drops subscribers whose session reports disconnected.
// When the prune empties the set, emptySince restarts so the terminal
// survives at least one more full grace period.
func (t *Terminal) pruneDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := len(t.subs)
	for id, s := range t.subs {
		if !s.Connected() {
			delete(t.subs, id)
		}
	}
	if before > 0 && len(t.subs) == 0 {
		t.emptySince = time.Now()
	}
}

// reclaimable reports whether the cleanup tick may remove this terminal:
// subprocess exited and the subscriber set has been empty for at least
// one full grace period. A running subprocess is never reclaimed.
func (t *Terminal) reclaimable(grace time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exited && t.started {
		return false
	}
	if len(t.subs) > 0 {
		return false
	}
	return time.Since(t.emptySince) >= grace
}

func (t *Terminal) subscriberList() []Subscriber {
	out := make([]Subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, s)
	}
	return out
}

// close releases the PTY. Called by the registry after removal.
func (t *Terminal) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ptmx != nil && !t.exited {
		t.ptmx.Close()
	}
}

// Exec runs a command to completion without registering a terminal,
// streaming combined output into sink. Used for docker compose ls / ps,
// whose JSON output must not pass through a PTY.
func Exec(ctx context.Context, sink io.Writer, program string, args []string, cwd string) (int, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = cwd
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
