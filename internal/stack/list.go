package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/terminal"
	"github.com/griffithind/dockge/internal/util"
)

type composeLSRecord struct {
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	ConfigFiles string `json:"ConfigFiles"`
}

// List produces the unified stack listing: the filesystem scan of the
// stacks directory merged with docker compose ls. Managed entries take
// filename and managed flag from disk and status from the daemon; a
// directory absent from the daemon listing has status CreatedFile.
func (e *Engine) List(ctx context.Context) (map[string]*Stack, error) {
	stacks := make(map[string]*Stack)

	entries, err := os.ReadDir(e.stacksDir)
	if err != nil {
		util.Warn("cannot read stacks directory %s: %v", e.stacksDir, err)
		entries = nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ValidateName(name) != nil {
			continue
		}
		s, err := New(e.stacksDir, name)
		if err != nil {
			continue
		}
		if !s.IsManaged() {
			continue
		}
		s.SetStatus(StatusCreatedFile)
		stacks[name] = s
	}

	records, err := e.composeLS(ctx)
	if err != nil {
		util.Warn("docker compose ls failed: %v", err)
		return stacks, nil
	}
	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		s, ok := stacks[rec.Name]
		if !ok {
			// Visible to the daemon only; unmanaged and read-only.
			s = &Stack{Name: rec.Name, stacksDir: e.stacksDir}
			stacks[rec.Name] = s
		}
		s.SetStatus(ParseComposeStatus(rec.Status))
	}
	return stacks, nil
}

// SimpleList serializes a listing for the stackList broadcast.
func SimpleList(stacks map[string]*Stack) map[string]SimpleView {
	out := make(map[string]SimpleView, len(stacks))
	for name, s := range stacks {
		out[name] = s.Simple()
	}
	return out
}

func (e *Engine) composeLS(ctx context.Context) ([]composeLSRecord, error) {
	var out bytes.Buffer
	args := []string{"compose", "ls", "--all", "--format", "json"}
	if _, err := terminal.Exec(ctx, &out, "docker", args, e.stacksDir); err != nil {
		return nil, err
	}

	return decodeComposeJSON[composeLSRecord](out.Bytes())
}

// decodeComposeJSON accepts both shapes the compose CLI emits: a single
// JSON array, or one JSON object per line.
func decodeComposeJSON[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []T
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, wrapDecode(err)
		}
		return records, nil
	}

	var records []T
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record T
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, wrapDecode(err)
		}
		records = append(records, record)
	}
	return records, nil
}

func wrapDecode(err error) error {
	return errors.Wrap(err, errors.CategoryStack, errors.CodeInternal,
		"cannot parse compose CLI output")
}
