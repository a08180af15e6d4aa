package retry

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags a failure for classification.
type Kind string

// Built-in kinds assigned by the executor and middleware.
const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = ""
	// KindTimeout is reported when an attempt exceeds its deadline.
	KindTimeout Kind = "timeout"
	// KindPanic is reported when a handler panics.
	KindPanic Kind = "panic"
	// KindSetup is reported when the tenant context cannot be set up.
	KindSetup Kind = "context_setup"
	// KindCancelled is recorded when the run's context ends during a
	// backoff wait.
	KindCancelled Kind = "cancelled"
)

// Error is a failure tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Failure returns an error of the given kind with a plain message.
func Failure(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind. It returns nil when err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of err. The outermost *Error wins. Deadline
// errors without an explicit kind report KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
