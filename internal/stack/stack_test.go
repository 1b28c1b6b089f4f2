package stack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griffithind/dockge/internal/terminal"
)

const sampleCompose = "services:\n  web:\n    image: nginx:alpine\n"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(t.TempDir(), terminal.NewRegistry())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("a"))
	assert.NoError(t, ValidateName("my-stack_2"))

	assert.Error(t, ValidateName("A"))
	assert.Error(t, ValidateName("a/b"))
	assert.Error(t, ValidateName("a b"))
	assert.Error(t, ValidateName(""))
}

func TestParseComposeStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, ParseComposeStatus("running(2)"))
	assert.Equal(t, StatusRunning, ParseComposeStatus("Running(1)"))
	assert.Equal(t, StatusExited, ParseComposeStatus("exited(1)"))
	assert.Equal(t, StatusExited, ParseComposeStatus("dead"))
	assert.Equal(t, StatusCreatedStack, ParseComposeStatus("created"))
	assert.Equal(t, StatusCreatedStack, ParseComposeStatus("paused(3)"))
	assert.Equal(t, StatusUnknown, ParseComposeStatus("restarting"))
	assert.Equal(t, StatusUnknown, ParseComposeStatus(""))
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	saved, err := e.Save("web", sampleCompose, "PORT=8080\n", true)
	require.NoError(t, err)
	assert.Equal(t, "compose.yaml", saved.ComposeFileName())

	s, err := e.Get("web")
	require.NoError(t, err)
	assert.True(t, s.IsManaged())

	yaml, err := s.ComposeYAML()
	require.NoError(t, err)
	assert.Equal(t, sampleCompose, yaml)

	env, err := s.ComposeENV()
	require.NoError(t, err)
	assert.Equal(t, "PORT=8080\n", env)
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Save("Bad Name", sampleCompose, "", true)
	assert.Error(t, err)

	_, err = e.Save("web", "services:\n\tbroken", "", true)
	assert.Error(t, err)
}

func TestSaveIsAddConflict(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Save("web", sampleCompose, "", true)
	require.NoError(t, err)

	_, err = e.Save("web", sampleCompose, "", true)
	assert.Error(t, err)

	// Updating an existing stack is allowed.
	_, err = e.Save("web", sampleCompose, "", false)
	assert.NoError(t, err)
}

func TestComposeFileNameDetectionOrder(t *testing.T) {
	e := newTestEngine(t)
	dir := filepath.Join(e.StacksDir(), "legacy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(sampleCompose), 0o644))

	s, err := e.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yml", s.ComposeFileName())

	// A save keeps the detected filename rather than renaming.
	_, err = e.Save("legacy", sampleCompose, "", false)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "docker-compose.yml"))
	assert.NoFileExists(t, filepath.Join(dir, "compose.yaml"))

	// compose.yaml wins over later variants once present.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(sampleCompose), 0o644))
	fresh, err := e.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, "compose.yaml", fresh.ComposeFileName())
}

func TestGetUnknownStack(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Get("missing")
	assert.Error(t, err)
}

func TestComposeArgsIncludeEnvFiles(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Save("web", sampleCompose, "", true)
	require.NoError(t, err)

	args := e.composeArgs(s, "up", "-d", "--remove-orphans")
	assert.Equal(t, []string{"compose", "up", "-d", "--remove-orphans"}, args)

	require.NoError(t, e.SaveGlobalEnv("SHARED=1\n"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), EnvFileName), []byte("PORT=80\n"), 0o644))

	args = e.composeArgs(s, "stop")
	assert.Equal(t, []string{
		"compose",
		"--env-file", filepath.Join(e.StacksDir(), GlobalEnvFileName),
		"--env-file", "./.env",
		"stop",
	}, args)
}

func TestGlobalEnvSeedsTemplate(t *testing.T) {
	e := newTestEngine(t)

	content, err := e.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultGlobalEnv, content)

	require.NoError(t, e.SaveGlobalEnv("A=1\n"))
	content, err = e.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", content)
}

func TestSimpleViewSerialization(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Save("web", sampleCompose, "", true)
	require.NoError(t, err)
	s.SetStatus(StatusRunning)

	view := s.Simple()
	assert.Equal(t, "web", view.Name)
	assert.Equal(t, StatusRunning, view.Status)
	assert.True(t, view.IsManagedByDockge)
	assert.Equal(t, "compose.yaml", view.ComposeFileName)
	assert.Empty(t, view.Endpoint)
	assert.NotNil(t, view.Tags)
}

func TestFullViewSerialization(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Save("web", sampleCompose, "PORT=8080\n", true)
	require.NoError(t, err)

	view, err := s.Full("dockge.example")
	require.NoError(t, err)
	assert.Equal(t, sampleCompose, view.ComposeYAML)
	assert.Equal(t, "PORT=8080\n", view.ComposeENV)
	assert.Equal(t, "dockge.example", view.PrimaryHostname)
}

func TestDecodeComposeJSONShapes(t *testing.T) {
	array := []byte(`[{"Name":"web","Status":"running(2)"},{"Name":"db","Status":"exited(1)"}]`)
	records, err := decodeComposeJSON[composeLSRecord](array)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "web", records[0].Name)

	lines := []byte("{\"Name\":\"web\",\"Status\":\"running(2)\"}\n{\"Name\":\"db\",\"Status\":\"exited(1)\"}\n")
	records, err = decodeComposeJSON[composeLSRecord](lines)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "exited(1)", records[1].Status)

	records, err = decodeComposeJSON[composeLSRecord](nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = decodeComposeJSON[composeLSRecord]([]byte("not json"))
	assert.Error(t, err)
}

func TestPublishedPortsFiltering(t *testing.T) {
	rec := composePSRecord{
		State: "running",
		Ports: "0.0.0.0:8080->80/tcp, 443/tcp",
	}
	assert.Equal(t, []string{"0.0.0.0:8080->80/tcp"}, rec.publishedPorts())

	rec = composePSRecord{State: "running"}
	rec.Publishers = []struct {
		URL           string `json:"URL"`
		TargetPort    int    `json:"TargetPort"`
		PublishedPort int    `json:"PublishedPort"`
		Protocol      string `json:"Protocol"`
	}{
		{URL: "0.0.0.0", TargetPort: 80, PublishedPort: 8080, Protocol: "tcp"},
		{TargetPort: 443, Protocol: "tcp"},
	}
	assert.Equal(t, []string{"0.0.0.0:8080->80/tcp"}, rec.publishedPorts())
}

func TestListScansManagedStacks(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Save("web", sampleCompose, "", true)
	require.NoError(t, err)
	_, err = e.Save("db", sampleCompose, "", true)
	require.NoError(t, err)

	// A directory without a compose file is not managed.
	require.NoError(t, os.MkdirAll(filepath.Join(e.StacksDir(), "scratch"), 0o755))

	stacks, err := e.List(context.Background())
	require.NoError(t, err)

	require.Contains(t, stacks, "web")
	require.Contains(t, stacks, "db")
	assert.NotContains(t, stacks, "scratch")
	assert.True(t, stacks["web"].IsManaged())
	assert.NotEqual(t, StatusUnknown, stacks["web"].Status())

	views := SimpleList(stacks)
	assert.True(t, views["web"].IsManagedByDockge)
}
