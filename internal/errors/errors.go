// Package errors provides structured error handling for dockge.
package errors

import (
	"errors"
	"fmt"
)

// Category represents the error category.
type Category string

// Error categories.
const (
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryStack      Category = "stack"
	CategoryTerminal   Category = "terminal"
	CategoryAgent      Category = "agent"
	CategoryDatabase   Category = "database"
	CategoryIO         Category = "io"
	CategoryInternal   Category = "internal"
)

// Error codes for each category.
const (
	// Auth errors
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthIncorrect    = "AUTH_INCORRECT"
	CodeAuthRateLimited  = "AUTH_RATE_LIMITED"
	CodeAuthInvalidToken = "AUTH_INVALID_TOKEN"
	CodeAuthUserInactive = "AUTH_USER_INACTIVE"
	CodeAuthAlreadySetup = "AUTH_ALREADY_SETUP"
	CodeAuthWeakPassword = "AUTH_WEAK_PASSWORD"

	// Validation errors
	CodeInvalidStackName = "INVALID_STACK_NAME"
	CodeInvalidYAML      = "INVALID_YAML"
	CodeInvalidArgument  = "INVALID_ARGUMENT"

	// Stack errors
	CodeStackNotFound   = "STACK_NOT_FOUND"
	CodeStackExists     = "STACK_EXISTS"
	CodeStackNotManaged = "STACK_NOT_MANAGED"
	CodeOperationBusy   = "OPERATION_BUSY"

	// Terminal errors
	CodeTerminalNotFound       = "TERMINAL_NOT_FOUND"
	CodeTerminalNotInteractive = "TERMINAL_NOT_INTERACTIVE"
	CodeTerminalNotOwned       = "TERMINAL_NOT_OWNED"
	CodeConsoleDisabled        = "CONSOLE_DISABLED"

	// Agent errors
	CodeAgentNotFound     = "AGENT_NOT_FOUND"
	CodeAgentExists       = "AGENT_EXISTS"
	CodeAgentUnreachable  = "AGENT_UNREACHABLE"
	CodeAgentIncompatible = "AGENT_INCOMPATIBLE"

	// Database errors
	CodeDatabaseQuery     = "DATABASE_QUERY"
	CodeDatabaseMigration = "DATABASE_MIGRATION"

	// IO errors
	CodeFileRead  = "FILE_READ"
	CodeFileWrite = "FILE_WRITE"

	// Internal errors
	CodeInternal = "INTERNAL"
)

// DockgeError is a structured error with category, code, and a message
// suitable for returning to a client verbatim.
type DockgeError struct {
	Category Category
	Code     string
	Message  string
	Cause    error
	Context  map[string]string
}

// Error implements the error interface.
func (e *DockgeError) Error() string {
	return fmt.Sprintf("[%s/%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DockgeError) Unwrap() error {
	return e.Cause
}

// ClientMessage returns the message a client reply should carry.
func (e *DockgeError) ClientMessage() string {
	return e.Message
}

// WithCause adds a cause to the error.
func (e *DockgeError) WithCause(cause error) *DockgeError {
	e.Cause = cause
	return e
}

// WithContext adds context to the error.
func (e *DockgeError) WithContext(key, value string) *DockgeError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// New creates a new DockgeError.
func New(category Category, code string, message string) *DockgeError {
	return &DockgeError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  make(map[string]string),
	}
}

// Newf creates a new DockgeError with formatted message.
func Newf(category Category, code string, format string, args ...interface{}) *DockgeError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error as a DockgeError.
func Wrap(err error, category Category, code string, message string) *DockgeError {
	return &DockgeError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]string),
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, category Category, code string, format string, args ...interface{}) *DockgeError {
	return Wrap(err, category, code, fmt.Sprintf(format, args...))
}

// Is checks if the error is a DockgeError with the given code.
func Is(err error, code string) bool {
	var de *DockgeError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// GetCode returns the code of a DockgeError, or empty string otherwise.
func GetCode(err error) string {
	var de *DockgeError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// MessageFor returns the client-facing message for any error.
func MessageFor(err error) string {
	var de *DockgeError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// Auth error constructors.

// NotLoggedIn reports a request on an unauthenticated session.
func NotLoggedIn() *DockgeError {
	return New(CategoryAuth, CodeAuthRequired, "You are not logged in.")
}

// IncorrectCredentials reports a failed username/password check.
func IncorrectCredentials() *DockgeError {
	return New(CategoryAuth, CodeAuthIncorrect, "Incorrect username or password.")
}

// RateLimited reports token-bucket exhaustion. The message is shared with
// the bad-password path so callers cannot distinguish the two.
func RateLimited() *DockgeError {
	return New(CategoryAuth, CodeAuthRateLimited, "Too frequently, try again later.")
}

// InvalidToken reports a bad or stale bearer token.
func InvalidToken() *DockgeError {
	return New(CategoryAuth, CodeAuthInvalidToken, "Invalid token.")
}

// WeakPassword reports a password that fails the minimum-length check.
func WeakPassword() *DockgeError {
	return New(CategoryAuth, CodeAuthWeakPassword,
		"Password is too weak. It must be at least 6 characters in length.")
}

// Validation error constructors.

// InvalidStackName reports a stack name outside [a-z0-9_-]+.
func InvalidStackName(name string) *DockgeError {
	return Newf(CategoryValidation, CodeInvalidStackName,
		"Stack name can only contain lowercase letters, numbers, hyphens and underscores").
		WithContext("name", name)
}

// InvalidYAML reports an unparseable compose document.
func InvalidYAML(cause error) *DockgeError {
	return Wrapf(cause, CategoryValidation, CodeInvalidYAML, "Invalid YAML: %v", cause)
}

// Stack error constructors.

// StackNotFound reports a stack with no directory and no compose project.
func StackNotFound(name string) *DockgeError {
	return Newf(CategoryStack, CodeStackNotFound, "Stack not found: %s", name).
		WithContext("name", name)
}

// StackExists reports a save(isAdd=true) over an existing directory.
func StackExists(name string) *DockgeError {
	return Newf(CategoryStack, CodeStackExists, "Stack already exists: %s", name).
		WithContext("name", name)
}

// OperationBusy reports a lifecycle request while another is running.
func OperationBusy() *DockgeError {
	return New(CategoryStack, CodeOperationBusy,
		"Another operation is already running, please try again later.")
}

// Terminal error constructors.

// TerminalNotFound reports a request against an unknown terminal name.
func TerminalNotFound(name string) *DockgeError {
	return Newf(CategoryTerminal, CodeTerminalNotFound, "Terminal not found: %s", name).
		WithContext("name", name)
}

// TerminalNotInteractive reports input written to a OneShot terminal.
func TerminalNotInteractive() *DockgeError {
	return New(CategoryTerminal, CodeTerminalNotInteractive, "Terminal is not interactive")
}

// TerminalNotOwned reports input from a session other than the one an
// interactive terminal is attached to.
func TerminalNotOwned() *DockgeError {
	return New(CategoryTerminal, CodeTerminalNotOwned, "Terminal belongs to another session")
}

// ConsoleDisabled reports a mainTerminal request without --enable-console.
func ConsoleDisabled() *DockgeError {
	return New(CategoryTerminal, CodeConsoleDisabled, "Console is not enabled.")
}

// Agent error constructors.

// AgentUnreachable reports a targeted call that exhausted its wait window.
func AgentUnreachable(endpoint string) *DockgeError {
	return Newf(CategoryAgent, CodeAgentUnreachable, "Agent %s is not online", endpoint).
		WithContext("endpoint", endpoint)
}

// AgentIncompatible reports a peer below the minimum supported version.
func AgentIncompatible(endpoint, version string) *DockgeError {
	return Newf(CategoryAgent, CodeAgentIncompatible,
		"Unsupported dockge version %s on %s, please upgrade it to 1.4.0 or above", version, endpoint).
		WithContext("endpoint", endpoint).
		WithContext("version", version)
}
