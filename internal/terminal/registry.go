package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/griffithind/dockge/internal/util"
)

// CleanupInterval is the period of the registry sweep.
const CleanupInterval = 60 * time.Second

// Registry is the process-wide name to terminal map.
type Registry struct {
	mu        sync.Mutex
	terminals map[string]*Terminal
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		terminals: make(map[string]*Terminal),
	}
}

// Get returns the terminal with the given name, or nil.
func (r *Registry) Get(name string) *Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals[name]
}

// GetOrCreate returns the existing terminal for name, or registers a new
// one built by factory. The second return is true when a terminal was
// created; callers that spawn a subprocess only do so in that case.
func (r *Registry) GetOrCreate(name string, factory func() *Terminal) (*Terminal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.terminals[name]; ok {
		return t, false
	}
	t := factory()
	r.terminals[name] = t
	return t, true
}

// Remove drops a terminal from the registry and releases its PTY.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	t := r.terminals[name]
	delete(r.terminals, name)
	r.mu.Unlock()
	if t != nil {
		t.close()
	}
}

// RemoveAfter removes a terminal after the delay, unless its subprocess
// has been restarted in the meantime. Gives late joiners a window to read
// the final output of a finished operation.
func (r *Registry) RemoveAfter(name string, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		r.mu.Lock()
		t := r.terminals[name]
		if t == nil || !t.Drained() {
			r.mu.Unlock()
			return
		}
		delete(r.terminals, name)
		r.mu.Unlock()
		t.close()
	}()
}

// Count returns the number of registered terminals.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminals)
}

// CleanupTick prunes disconnected subscribers on every terminal and
// reclaims terminals whose subprocess has exited and whose subscriber set
// has been empty for at least one full interval.
func (r *Registry) CleanupTick() {
	r.mu.Lock()
	terminals := make(map[string]*Terminal, len(r.terminals))
	for name, t := range r.terminals {
		terminals[name] = t
	}
	r.mu.Unlock()

	for name, t := range terminals {
		t.pruneDisconnected()
		if t.reclaimable(CleanupInterval) {
			util.Debug("reclaiming terminal %s", name)
			r.Remove(name)
		}
	}
}

// StartCleanup runs CleanupTick every CleanupInterval until ctx is done.
func (r *Registry) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupTick()
			}
		}
	}()
}
