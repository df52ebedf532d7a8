package cli

import (
	"errors"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// Process exit statuses.
const (
	ExitSuccess = 0
	// ExitFailure: the command ran but the operation failed, e.g. an
	// unknown archive anchor or an unreachable backend.
	ExitFailure = 1
	// ExitCommandError: the command could not run at all (flags, config,
	// database DSN).
	ExitCommandError = 2
)

// ExitError carries the exit status a failed command should end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// WrapExitError attaches an exit status and context to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to an exit status. An ExitError anywhere in the
// chain wins; a bare VALIDATION error is a command error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case model.IsValidation(err):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// ErrorCode is the machine-readable code reported for err.
func ErrorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

