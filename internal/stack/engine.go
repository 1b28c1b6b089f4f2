package stack

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/terminal"
	"github.com/griffithind/dockge/internal/util"
)

// Engine drives compose lifecycle operations for the local stacks
// directory. Remote stacks are reached through the agent manager, never
// through the engine.
type Engine struct {
	stacksDir string
	registry  *terminal.Registry
}

// NewEngine builds an engine over a stacks directory.
func NewEngine(stacksDir string, registry *terminal.Registry) *Engine {
	return &Engine{stacksDir: stacksDir, registry: registry}
}

// StacksDir returns the stacks root.
func (e *Engine) StacksDir() string { return e.stacksDir }

// Registry exposes the terminal registry for the cleanup tick.
func (e *Engine) Registry() *terminal.Registry { return e.registry }

// Get returns a managed stack by name.
func (e *Engine) Get(name string) (*Stack, error) {
	s, err := New(e.stacksDir, name)
	if err != nil {
		return nil, err
	}
	if !s.IsManaged() {
		return nil, errors.StackNotFound(name)
	}
	return s, nil
}

// composeArgs assembles the docker argument vector for a verb:
// compose [--env-file global.env] [--env-file ./.env] verb args...
func (e *Engine) composeArgs(s *Stack, verb string, extra ...string) []string {
	args := []string{"compose"}
	globalEnv := filepath.Join(e.stacksDir, GlobalEnvFileName)
	if fileExists(globalEnv) {
		args = append(args, "--env-file", globalEnv)
	}
	if fileExists(filepath.Join(s.Dir(), EnvFileName)) {
		args = append(args, "--env-file", "./"+EnvFileName)
	}
	args = append(args, verb)
	return append(args, extra...)
}

// spawnCompose runs a compose verb under the stack's compose terminal.
// A terminal whose subprocess is still running is reused: the subscriber
// attaches and no second subprocess is spawned. A drained terminal is
// replaced, carrying its subscribers over.
func (e *Engine) spawnCompose(s *Stack, rows uint16, sub terminal.Subscriber, args []string) (string, error) {
	name := terminal.ComposeTerminalName(s.Endpoint, s.Name)
	factory := func() *terminal.Terminal {
		return terminal.New(name, terminal.OneShot, rows, terminal.DefaultCols)
	}

	t, created := e.registry.GetOrCreate(name, factory)
	if !created {
		if t.Running() {
			if sub != nil {
				t.Join(sub)
			}
			return name, nil
		}
		carried := t.Subscribers()
		e.registry.Remove(name)
		t, _ = e.registry.GetOrCreate(name, factory)
		for _, c := range carried {
			t.Join(c)
		}
	}
	if sub != nil {
		t.Join(sub)
	}

	if err := t.Start("docker", args, s.Dir()); err != nil {
		e.registry.Remove(name)
		return "", err
	}
	return name, nil
}

// Deploy brings the stack up.
func (e *Engine) Deploy(s *Stack, sub terminal.Subscriber) (string, error) {
	return e.spawnCompose(s, terminal.DefaultRows, sub,
		e.composeArgs(s, "up", "-d", "--remove-orphans"))
}

// Start is deploy by another name; it shares the same invocation.
func (e *Engine) Start(s *Stack, sub terminal.Subscriber) (string, error) {
	return e.Deploy(s, sub)
}

// Stop stops the stack's containers without removing them.
func (e *Engine) Stop(s *Stack, sub terminal.Subscriber) (string, error) {
	return e.spawnCompose(s, terminal.DefaultRows, sub, e.composeArgs(s, "stop"))
}

// Restart restarts the stack's containers.
func (e *Engine) Restart(s *Stack, sub terminal.Subscriber) (string, error) {
	return e.spawnCompose(s, terminal.DefaultRows, sub, e.composeArgs(s, "restart"))
}

// Down stops and removes the stack's containers.
func (e *Engine) Down(s *Stack, sub terminal.Subscriber) (string, error) {
	return e.spawnCompose(s, terminal.DefaultRows, sub, e.composeArgs(s, "down"))
}

// Update pulls fresh images, then brings the stack back up if it was
// running before the pull.
func (e *Engine) Update(s *Stack, wasRunning bool, sub terminal.Subscriber) (string, error) {
	name, err := e.spawnCompose(s, terminal.ProgressRows, sub, e.composeArgs(s, "pull"))
	if err != nil {
		return "", err
	}
	if !wasRunning {
		return name, nil
	}

	t := e.registry.Get(name)
	if t == nil {
		return name, nil
	}
	go func() {
		if err := t.Wait(context.Background()); err != nil {
			return
		}
		if t.ExitCode() != 0 {
			return
		}
		if _, err := e.Deploy(s, nil); err != nil {
			util.Warn("post-pull up failed for stack %s: %v", s.Name, err)
		}
	}()
	return name, nil
}

// Delete runs compose down and then removes the stack directory. The
// directory is removed even when down fails, matching delete semantics
// for stacks whose project is already gone from the daemon.
func (e *Engine) Delete(s *Stack, sub terminal.Subscriber) (string, error) {
	name, err := e.spawnCompose(s, terminal.DefaultRows, sub,
		e.composeArgs(s, "down", "--remove-orphans"))
	if err != nil {
		return "", err
	}

	t := e.registry.Get(name)
	go func() {
		if t != nil {
			if err := t.Wait(context.Background()); err != nil {
				return
			}
		}
		if err := os.RemoveAll(s.Dir()); err != nil {
			util.Warn("failed to remove stack directory %s: %v", s.Dir(), err)
		}
	}()
	return name, nil
}

// JoinCombinedLogs attaches a subscriber to the stack's log tail,
// spawning docker compose logs -f if no tail is running. Returns the
// terminal name and the scrollback delivered to the subscriber.
func (e *Engine) JoinCombinedLogs(s *Stack, sub terminal.Subscriber) (string, string, error) {
	name := terminal.CombinedTerminalName(s.Endpoint, s.Name)
	factory := func() *terminal.Terminal {
		return terminal.New(name, terminal.OneShot, terminal.CombinedRows, terminal.CombinedCols)
	}

	t, created := e.registry.GetOrCreate(name, factory)
	if !created && !t.Running() {
		e.registry.Remove(name)
		t, created = e.registry.GetOrCreate(name, factory)
	}
	buffer := t.Join(sub)
	if created {
		args := e.composeArgs(s, "logs", "-f", "--tail", "100")
		if err := t.Start("docker", args, s.Dir()); err != nil {
			e.registry.Remove(name)
			return "", "", err
		}
	}
	return name, buffer, nil
}

// LeaveCombinedLogs detaches a subscriber from the stack's log tail.
func (e *Engine) LeaveCombinedLogs(s *Stack, subID string) {
	if t := e.registry.Get(terminal.CombinedTerminalName(s.Endpoint, s.Name)); t != nil {
		t.Leave(subID)
	}
}

// Save validates and writes the stack's compose file and .env. With
// isAdd the stack directory must not already exist. An existing accepted
// compose filename is kept, never renamed.
func (e *Engine) Save(name, composeYAML, composeENV string, isAdd bool) (*Stack, error) {
	s, err := New(e.stacksDir, name)
	if err != nil {
		return nil, err
	}
	if _, err := loader.ParseYAML([]byte(composeYAML)); err != nil {
		return nil, errors.InvalidYAML(err)
	}

	dir := s.Dir()
	if isAdd {
		if _, err := os.Stat(dir); err == nil {
			return nil, errors.StackExists(name)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CategoryIO, errors.CodeFileWrite,
			"failed to create %s", dir)
	}

	if err := writeFileAtomic(filepath.Join(dir, s.ComposeFileName()), composeYAML); err != nil {
		return nil, err
	}
	envPath := filepath.Join(dir, EnvFileName)
	if composeENV != "" || fileExists(envPath) {
		if err := writeFileAtomic(envPath, composeENV); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ServiceStatus is one service's runtime state for the detail view.
type ServiceStatus struct {
	State string   `json:"state"`
	Ports []string `json:"ports"`
}

type composePSRecord struct {
	Service    string `json:"Service"`
	State      string `json:"State"`
	Ports      string `json:"Ports"`
	Publishers []struct {
		URL           string `json:"URL"`
		TargetPort    int    `json:"TargetPort"`
		PublishedPort int    `json:"PublishedPort"`
		Protocol      string `json:"Protocol"`
	} `json:"Publishers"`
}

// ServiceStatusList runs docker compose ps and maps each service to its
// state and published ports.
func (e *Engine) ServiceStatusList(ctx context.Context, s *Stack) (map[string]ServiceStatus, error) {
	var out bytes.Buffer
	args := e.composeArgs(s, "ps", "--format", "json")
	if _, err := terminal.Exec(ctx, &out, "docker", args, s.Dir()); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStack, errors.CodeInternal,
			"docker compose ps failed")
	}

	result := make(map[string]ServiceStatus)
	records, err := decodeComposeJSON[composePSRecord](out.Bytes())
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Service == "" {
			continue
		}
		result[rec.Service] = ServiceStatus{
			State: rec.State,
			Ports: rec.publishedPorts(),
		}
	}
	return result, nil
}

// publishedPorts keeps only published mappings, those rendered with "->".
func (r composePSRecord) publishedPorts() []string {
	ports := []string{}
	if r.Ports != "" {
		for _, part := range strings.Split(r.Ports, ", ") {
			if strings.Contains(part, "->") {
				ports = append(ports, strings.TrimSpace(part))
			}
		}
		return ports
	}
	for _, pub := range r.Publishers {
		if pub.PublishedPort == 0 {
			continue
		}
		host := pub.URL
		if host == "" {
			host = "0.0.0.0"
		}
		ports = append(ports, fmt.Sprintf("%s:%d->%d/%s", host, pub.PublishedPort, pub.TargetPort, pub.Protocol))
	}
	return ports
}

// DockerNetworkList returns the names of the daemon's networks, sorted.
func (e *Engine) DockerNetworkList(ctx context.Context) ([]string, error) {
	var out bytes.Buffer
	args := []string{"network", "ls", "--format", "{{.Name}}"}
	if _, err := terminal.Exec(ctx, &out, "docker", args, e.stacksDir); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStack, errors.CodeInternal,
			"docker network ls failed")
	}

	networks := []string{}
	for _, line := range strings.Split(out.String(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			networks = append(networks, trimmed)
		}
	}
	sort.Strings(networks)
	return networks, nil
}

// GlobalEnv reads the shared global.env, seeding it with a template on
// first read.
func (e *Engine) GlobalEnv() (string, error) {
	path := filepath.Join(e.stacksDir, GlobalEnvFileName)
	content, err := readOptionalFile(path)
	if err != nil {
		return "", err
	}
	if content == "" && !fileExists(path) {
		return DefaultGlobalEnv, nil
	}
	return content, nil
}

// SaveGlobalEnv writes the shared global.env.
func (e *Engine) SaveGlobalEnv(content string) error {
	return writeFileAtomic(filepath.Join(e.stacksDir, GlobalEnvFileName), content)
}

// writeFileAtomic writes via a sibling temp file and rename.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, errors.CategoryIO, errors.CodeFileWrite,
			"failed to create temp file for %s", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.CategoryIO, errors.CodeFileWrite,
			"failed to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.CategoryIO, errors.CodeFileWrite,
			"failed to write %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.CategoryIO, errors.CodeFileWrite,
			"failed to replace %s", path)
	}
	return nil
}
