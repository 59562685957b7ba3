package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes. Command errors (bad flags, unreadable files) exit 2 so
// scripts can tell operator mistakes from failed operations.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries an exit code alongside the error it wraps.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError builds an ExitError from a bare message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the process exit code for err. Untyped errors map
// to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Envelope is the JSON shape every command emits in json mode.
type Envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody mirrors the engine's typed error surface.
type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Formatter renders command results in the selected format.
type Formatter struct {
	Format  string
	Out     io.Writer
	Verbose bool
}

// NewFormatter builds a Formatter from the root options.
func NewFormatter(opts *RootOptions, out io.Writer) *Formatter {
	return &Formatter{Format: opts.Format, Out: out, Verbose: opts.Verbose}
}

// JSONOutput reports whether the formatter is in json mode.
func (f *Formatter) JSONOutput() bool { return f.Format == "json" }

// OK emits a success envelope in json mode. Text-mode callers print
// their own lines and use OK only for the json branch.
func (f *Formatter) OK(data any) error {
	return f.encode(Envelope{Status: "ok", Data: data})
}

// Fail emits an error envelope.
func (f *Formatter) Fail(kind, code, message string) error {
	return f.encode(Envelope{
		Status: "error",
		Error:  &ErrorBody{Kind: kind, Code: code, Message: message},
	})
}

// FailWith emits an error envelope that still carries data, for
// commands that produce partial results before failing.
func (f *Formatter) FailWith(data any, kind, code, message string) error {
	return f.encode(Envelope{
		Status: "error",
		Data:   data,
		Error:  &ErrorBody{Kind: kind, Code: code, Message: message},
	})
}

func (f *Formatter) encode(env Envelope) error {
	enc := json.NewEncoder(f.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// Textf prints a formatted line in text mode and is a no-op in json
// mode.
func (f *Formatter) Textf(format string, args ...any) {
	if f.JSONOutput() {
		return
	}
	fmt.Fprintf(f.Out, format, args...)
}
