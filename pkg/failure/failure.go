// Package failure defines the terminal error kinds a session request can end
// with. Every kind is reported to the caller as a single error event whose
// text is the error's Message.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindClone      Kind = "clone"
	KindMutation   Kind = "mutation"
	KindDiff       Kind = "diff"
	KindUnknown    Kind = "unknown"
)

// Error is a classified failure. Message is shown to callers verbatim; Err
// keeps the underlying cause for logs and errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// ExitCode is set for mutation failures: the agent exit status, or -1
	// when the agent could not be started or was killed by a signal.
	ExitCode int
	// Detail adds the cause to the caller-facing message.
	Detail bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed or missing input.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound reports a thread that does not exist or has expired.
func NotFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

// Conflict reports a request that contradicts persisted thread state.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Clone reports a failed repository checkout.
func Clone(err error) *Error {
	return &Error{Kind: KindClone, Message: "Failed to clone repository", Err: err, Detail: true}
}

// Mutation reports an agent run that exited unsuccessfully.
func Mutation(agent string, exitCode int, err error) *Error {
	return &Error{
		Kind:     KindMutation,
		Message:  fmt.Sprintf("%s exited with code %d", agent, exitCode),
		Err:      err,
		ExitCode: exitCode,
	}
}

// MutationStart reports an agent that could not be launched.
func MutationStart(agent string, err error) *Error {
	return &Error{
		Kind:     KindMutation,
		Message:  fmt.Sprintf("Failed to start %s", agent),
		Err:      err,
		ExitCode: -1,
		Detail:   true,
	}
}

// Diff reports a failure while staging or diffing the working tree.
func Diff(err error) *Error {
	return &Error{Kind: KindDiff, Message: "Failed to generate diff", Err: err, Detail: true}
}

// KindOf returns the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing text for err. Unclassified errors are
// reported with their full text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return err.Error()
	}
	if fe.Detail && fe.Err != nil {
		return fe.Error()
	}
	return fe.Message
}
