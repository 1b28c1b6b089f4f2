// Package stack implements the compose project lifecycle engine. Every
// mutating operation is driven through the docker compose CLI under a
// named terminal so clients can watch progress.
package stack

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/griffithind/dockge/internal/errors"
)

// Accepted compose filenames, checked in order. The first existing file
// wins and is never renamed.
var AcceptedComposeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// DefaultComposeFileName is used when creating a new stack.
const DefaultComposeFileName = "compose.yaml"

// GlobalEnvFileName sits directly under the stacks directory and is
// injected into every compose invocation ahead of the per-stack .env.
const GlobalEnvFileName = "global.env"

// EnvFileName is the per-stack environment file.
const EnvFileName = ".env"

// DefaultGlobalEnv seeds global.env on first read.
const DefaultGlobalEnv = "# VARIABLE=value #comment"

var nameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName enforces the stack naming rule.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return errors.InvalidStackName(name)
	}
	return nil
}

// Stack is one compose project, on disk or known to the daemon.
type Stack struct {
	Name     string
	Endpoint string

	stacksDir string
	status    Status

	// composeFileName is resolved lazily from disk.
	composeFileName string
}

// New builds a stack handle after validating the name.
func New(stacksDir, name string) (*Stack, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Stack{
		Name:      name,
		stacksDir: stacksDir,
		status:    StatusUnknown,
	}, nil
}

// Dir is the stack's project directory.
func (s *Stack) Dir() string {
	return filepath.Join(s.stacksDir, s.Name)
}

// ComposeFileName returns the detected compose filename, or the default
// when none exists yet.
func (s *Stack) ComposeFileName() string {
	if s.composeFileName != "" {
		return s.composeFileName
	}
	for _, candidate := range AcceptedComposeFileNames {
		if fileExists(filepath.Join(s.Dir(), candidate)) {
			s.composeFileName = candidate
			return candidate
		}
	}
	return DefaultComposeFileName
}

// IsManaged reports whether this server owns the stack: its directory
// exists and contains an accepted compose file.
func (s *Stack) IsManaged() bool {
	for _, candidate := range AcceptedComposeFileNames {
		if fileExists(filepath.Join(s.Dir(), candidate)) {
			return true
		}
	}
	return false
}

// Status returns the last derived status.
func (s *Stack) Status() Status {
	return s.status
}

// SetStatus records a status derived by the aggregator.
func (s *Stack) SetStatus(status Status) {
	s.status = status
}

// ComposeYAML reads the compose file. Missing file returns empty.
func (s *Stack) ComposeYAML() (string, error) {
	return readOptionalFile(filepath.Join(s.Dir(), s.ComposeFileName()))
}

// ComposeENV reads the per-stack .env file. Missing file returns empty.
func (s *Stack) ComposeENV() (string, error) {
	return readOptionalFile(filepath.Join(s.Dir(), EnvFileName))
}

// SimpleView is the list-view serialization.
type SimpleView struct {
	Name              string   `json:"name"`
	Status            Status   `json:"status"`
	Tags              []string `json:"tags"`
	IsManagedByDockge bool     `json:"isManagedByDockge"`
	ComposeFileName   string   `json:"composeFileName"`
	Endpoint          string   `json:"endpoint"`
}

// FullView is the detail-view serialization.
type FullView struct {
	SimpleView
	ComposeYAML     string `json:"composeYAML"`
	ComposeENV      string `json:"composeENV"`
	PrimaryHostname string `json:"primaryHostname"`
}

// Simple serializes the stack for the list view.
func (s *Stack) Simple() SimpleView {
	return SimpleView{
		Name:              s.Name,
		Status:            s.status,
		Tags:              []string{},
		IsManagedByDockge: s.IsManaged(),
		ComposeFileName:   s.ComposeFileName(),
		Endpoint:          s.Endpoint,
	}
}

// Full serializes the stack for the detail view, reading the compose
// file and .env from disk.
func (s *Stack) Full(primaryHostname string) (FullView, error) {
	yaml, err := s.ComposeYAML()
	if err != nil {
		return FullView{}, err
	}
	env, err := s.ComposeENV()
	if err != nil {
		return FullView{}, err
	}
	return FullView{
		SimpleView:      s.Simple(),
		ComposeYAML:     yaml,
		ComposeENV:      env,
		PrimaryHostname: primaryHostname,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.CategoryIO, errors.CodeInternal, "failed to read %s", path)
	}
	return string(data), nil
}
