package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ir"
)

// Exit codes shared by every command.
const (
	ExitSuccess      = 0 // command succeeded, session waiting or finished
	ExitFailure      = 1 // lint/validation errors, failed scenarios, diverged replay, session error
	ExitCommandError = 2 // unusable input: bad paths, missing database, invalid project
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
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

// GetExitCode returns the code carried by err, or ExitFailure when err is
// not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results either as one JSON envelope
// or as text. Diagnostics never go to Writer in JSON mode.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// newFormatter builds the formatter for cmd's output streams.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status    string    `json:"status"` // "ok" or "error"
	Data      any       `json:"data,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// CLIError is the error part of a response. Code is a session error code
// (INVALID_CHOICE), a validation code (E106) or an E_ command code.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success writes data as an ok response. Text output prints data as is.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error response. Details are shown in text only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Report writes data together with an optional failure. JSON output is a
// single envelope tagged with sessionID, if any; text output is whatever
// text writes. A failure yields an ExitFailure error.
func (f *OutputFormatter) Report(sessionID string, data any, failure *CLIError, text func(w io.Writer)) error {
	if f.json() {
		resp := CLIResponse{Status: "ok", Data: data, SessionID: sessionID}
		if failure != nil {
			resp.Status = "error"
			resp.Error = failure
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		text(f.Writer)
	}
	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}

// Check writes a ✓ or ✗ status line.
func (f *OutputFormatter) Check(ok bool, format string, args ...any) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(f.Writer, mark+" "+format+"\n", args...)
}

// Pending writes the dialogue a session is waiting on and the responses
// it offers.
func (f *OutputFormatter) Pending(p *engine.PendingChoices) {
	if p == nil {
		return
	}
	if p.Speaker != "" {
		fmt.Fprintf(f.Writer, "%s: %s\n", p.Speaker, p.Text)
	} else {
		fmt.Fprintln(f.Writer, p.Text)
	}
	for _, r := range p.Responses {
		fmt.Fprintf(f.Writer, "  -> %s: %s\n", r.ID, r.Text)
	}
	fmt.Fprintln(f.Writer)
}

// Console writes session console lines, one per line.
func (f *OutputFormatter) Console(lines []engine.LogEntry) {
	for _, line := range lines {
		fmt.Fprintf(f.Writer, "  [%d] %s: %s\n", line.Step, line.Level, line.Message)
	}
}

// Variables writes ref = literal lines in ref order.
func (f *OutputFormatter) Variables(vars map[string]ir.Value) {
	for _, ref := range ir.SortedKeys(vars) {
		fmt.Fprintf(f.Writer, "  %s = %s\n", ref, ir.Literal(vars[ref]))
	}
}

// VerboseLog writes a diagnostic line when verbose output is on. It goes
// to ErrWriter so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.diagnostics(), format+"\n", args...)
}

func (f *OutputFormatter) diagnostics() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
