// Package pipeline defines the deployment pipeline's state names and error
// taxonomy. This is part of the Functional Core - no I/O.
package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

var (
	// ErrValidation marks input problems found before any external call.
	ErrValidation = errors.New("validation error")

	// ErrTimeout marks a bounded poll that ran out of attempts.
	ErrTimeout = errors.New("timed out")

	// ErrHardFailure marks an external call failure that aborts the run.
	ErrHardFailure = errors.New("hard failure")
)

// Error is a classified pipeline failure. Kind is one of the sentinels above
// and is matched by errors.Is; Err is the underlying cause.
type Error struct {
	Kind    error
	Stage   Stage
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind. A timeout also matches ErrHardFailure since
// it aborts the run the same way.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return target == ErrHardFailure && e.Kind == ErrTimeout
}

// Validation builds a validation error.
func Validation(op string, err error) *Error {
	return &Error{Kind: ErrValidation, Stage: StageInit, Op: op, Err: err}
}

// Timeout builds a timeout error for a poll in stage.
func Timeout(stage Stage, op, message string) *Error {
	return &Error{Kind: ErrTimeout, Stage: stage, Op: op, Message: message}
}

// Hard wraps err as a hard failure of stage. An err that is already a
// classified *Error is returned as is so the caller sees the original cause.
// Clients that wrap ErrTimeout get the timeout kind.
func Hard(stage Stage, op string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	kind := ErrHardFailure
	if errors.Is(err, ErrTimeout) {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Stage: stage, Op: op, Err: err}
}

// Hardf builds a hard failure with no underlying cause.
func Hardf(stage Stage, op, format string, args ...any) *Error {
	return &Error{Kind: ErrHardFailure, Stage: stage, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTimeout reports whether err is a poll timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsHardFailure reports whether err aborts a run. Timeouts count.
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrHardFailure)
}
