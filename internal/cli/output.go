package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The query or mapping is wrong, or the dialect cannot express it
	ExitCommandError = 2 // Command error (invalid paths, unreadable files, bad flags)
)

// CLI-level error codes. Query errors report their own Q-codes.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeLoadFailed = "E004" // Mapping, query or fixture file failed to load
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeExecFailed = "E008" // Database rejected a statement
	ErrCodeTestFailed = "E009" // One or more scenarios failed
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
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
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "Q102", "E005", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
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
func (f *OutputFormatter) Error(code, message string, details any) error {
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

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports err and returns the ExitError the command should return.
// Query errors exit with ExitFailure and report their Q-code; file and
// database errors are command errors.
func (f *OutputFormatter) Fail(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	code, exit, details := classify(err)
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}

func classify(err error) (string, int, any) {
	var qe *qerr.Error
	if errors.As(err, &qe) {
		return string(qe.Code), ExitFailure, map[string]string{
			"kind":      qe.Kind.String(),
			"construct": qe.Construct,
		}
	}
	var le *mapping.LoadError
	if errors.As(err, &le) {
		if le.Pos.IsValid() {
			return ErrCodeLoadFailed, ExitFailure, map[string]any{
				"file": le.Pos.Filename(), "line": le.Pos.Line(), "column": le.Pos.Column(),
			}
		}
		if errors.Is(err, fs.ErrNotExist) {
			return ErrCodeNotFound, ExitCommandError, nil
		}
		return ErrCodeLoadFailed, ExitFailure, nil
	}
	var fe *fileError
	if errors.As(err, &fe) {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrCodeNotFound, ExitCommandError, map[string]string{"path": fe.Path}
		}
		return ErrCodeLoadFailed, ExitFailure, map[string]string{"path": fe.Path}
	}
	var ee *execError
	if errors.As(err, &ee) {
		return ErrCodeExecFailed, ExitFailure, map[string]string{"sql": ee.sql}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCodeNotFound, ExitCommandError, nil
	}
	return ErrCodeGeneric, ExitCommandError, nil
}
