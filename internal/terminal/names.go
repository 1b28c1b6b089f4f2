package terminal

import "fmt"

// Default PTY dimensions for lifecycle operation terminals.
const (
	DefaultCols = 105
	DefaultRows = 10

	// ProgressRows is used for pull/update progress output.
	ProgressRows = 8

	// Combined log-tail terminals use a smaller viewport.
	CombinedCols = 58
	CombinedRows = 20
)

// MainTerminalName is the registry key of the global shell terminal.
const MainTerminalName = "console"

// ComposeTerminalName returns the terminal name for per-stack compose
// operations. The endpoint is empty for local stacks.
func ComposeTerminalName(endpoint, stack string) string {
	return "compose-" + endpoint + "-" + stack
}

// CombinedTerminalName returns the terminal name for a stack's log tail.
func CombinedTerminalName(endpoint, stack string) string {
	return "combined-" + endpoint + "-" + stack
}

// ContainerExecTerminalName returns the terminal name for an interactive
// shell inside a service container.
func ContainerExecTerminalName(endpoint, stack, service string, index int) string {
	return fmt.Sprintf("container-exec-%s-%s-%s-%d", endpoint, stack, service, index)
}
