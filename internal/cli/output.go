package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// Process exit statuses.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // records failed to sync, or a capture was rejected
	ExitCommandError = 2 // bad flags, unreadable config, no remote, database unavailable
)

// ExitError carries the process exit status for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional cause
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to the process exit status. Errors that
// are not ExitErrors exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// TextRenderer is implemented by command results that have their own
// human-readable layout. Other values are printed with fmt.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" | "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error body of a CLIResponse. Code is a syncerr code when the
// failure came from the queue or the remote, "COMMAND_ERROR" otherwise.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode classifies err for CLIError.Code.
func ErrorCode(err error) string {
	if code := syncerr.CodeOf(err); code != "" {
		return string(code)
	}
	return "COMMAND_ERROR"
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes a command result.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if r, ok := data.(TextRenderer); ok {
		return r.RenderText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure. In text mode details are shown only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose is set. It goes to
// ErrWriter so JSON output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

// GetErrWriter returns ErrWriter, or Writer when it is unset.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
