package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/dcstats/internal/failure"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run failure (bad records, store I/O, export errors)
	ExitCommandError = 2 // Command error (bad flags, unknown mode, missing config or directories)
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeConfig     = "E002" // Config, flag or directory error
	ErrCodeValidation = "E003" // Record failed validation
	ErrCodeStore      = "E004" // Store could not be opened or written
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written to the user.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is neither an ExitError nor a cobra
// usage error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if isUsageError(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// cobra reports argument and required-flag problems as plain errors, and
// never routes them through the flag error func.
var usageErrorPrefixes = []string{
	"required flag(s)",
	"unknown command",
	"accepts ",
	"invalid argument",
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// ExitCodeFor maps a failure category to an exit code. Config errors are
// command errors; everything else is a run failure.
func ExitCodeFor(err error) int {
	if failure.IsConfig(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// ErrorCodeFor maps a failure category to a JSON error code.
func ErrorCodeFor(err error) string {
	switch {
	case failure.IsConfig(err):
		return ErrCodeConfig
	case failure.IsValidation(err):
		return ErrCodeValidation
	case failure.IsStoreUnavailable(err):
		return ErrCodeStore
	}
	return ErrCodeGeneric
}

// NeedsReport reports whether err still has to be shown to the user.
func NeedsReport(err error) bool {
	var exitErr *ExitError
	return err != nil && !(errors.As(err, &exitErr) && exitErr.Reported)
}

// Diagnostic renders err for a terminal: the message followed by any hints.
func Diagnostic(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %v", err)
	for _, hint := range failure.Hints(err) {
		fmt.Fprintf(&b, "\nHint: %s", hint)
	}
	return b.String()
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Failure reports err in the configured format and returns it wrapped with
// the exit code of its category.
func (f *OutputFormatter) Failure(message string, err error) error {
	var details interface{}
	var se *failure.StageError
	if errors.As(err, &se) {
		details = map[string]string{"stage": se.Stage, "artifact": se.Artifact}
	}
	if hints := failure.Hints(err); len(hints) > 0 && f.Format != "json" {
		message = message + " (" + strings.Join(hints, "; ") + ")"
	}
	_ = f.Error(ErrorCodeFor(err), fmt.Sprintf("%s: %v", message, err), details)
	exitErr := WrapExitError(ExitCodeFor(err), message, err)
	exitErr.Reported = true
	return exitErr
}
