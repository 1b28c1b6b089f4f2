package stack

import "strings"

// Status is the lifecycle state of a compose project.
type Status int

const (
	StatusUnknown      Status = 0
	StatusCreatedFile  Status = 1
	StatusCreatedStack Status = 2
	StatusRunning      Status = 3
	StatusExited       Status = 4
)

// String renders a status for logs.
func (s Status) String() string {
	switch s {
	case StatusCreatedFile:
		return "created_file"
	case StatusCreatedStack:
		return "created_stack"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ParseComposeStatus maps a status string from docker compose ls, such as
// "running(2)" or "exited(1)", onto a Status. Unknown strings map to
// StatusUnknown rather than guessing.
func ParseComposeStatus(raw string) Status {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(lower, "running"):
		return StatusRunning
	case strings.HasPrefix(lower, "exited"), strings.HasPrefix(lower, "dead"):
		return StatusExited
	case strings.HasPrefix(lower, "created"), strings.HasPrefix(lower, "paused"):
		return StatusCreatedStack
	default:
		return StatusUnknown
	}
}
