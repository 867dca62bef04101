package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"unified-planner/internal/apperr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran and found a problem, e.g. integrity violations
	ExitCommandError = 2 // bad input or a failed operation
)

// ExitError is an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Plain errors map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// fail wraps a service error for the user; validation and lookup failures keep their text.
func fail(op string, err error) error {
	if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
		return WrapExitError(ExitCommandError, op, err)
	}
	return WrapExitError(ExitCommandError, op+" failed", err)
}

type output struct {
	format string
	w      io.Writer
}

func (o output) json() bool { return o.format == "json" }

// emit writes v as indented JSON in json mode, or calls text otherwise.
func (o output) emit(v any, text func(w io.Writer)) error {
	if o.json() {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(o.w)
	return nil
}
