// Package hoisterr defines the error taxonomy shared across the core.
//
// Transport-layer errors are never surfaced raw: every failure that
// crosses a package boundary is reclassified into one of the kinds below,
// carrying a human-readable message, an optional actionable hint, and the
// original error as the wrapped cause for diagnostics.
package hoisterr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure.
type Kind string

const (
	// KindAuth covers credential resolution failures and remote
	// authentication rejections.
	KindAuth Kind = "auth"

	// KindConnection covers transports that could not be established
	// or were refused.
	KindConnection Kind = "connection"

	// KindTimeout covers bounded waits that elapsed before completion.
	KindTimeout Kind = "timeout"

	// KindSudoAuth covers privilege escalation specifically rejected
	// by the remote sudo.
	KindSudoAuth Kind = "sudo_auth"

	// KindSessionNotFound covers handles that are absent or expired.
	// This is a caller error, not a transport error.
	KindSessionNotFound Kind = "session_not_found"

	// KindBadRequest covers malformed input parameters.
	KindBadRequest Kind = "bad_request"

	// KindInternal covers defects that do not fit the taxonomy.
	KindInternal Kind = "internal"
)

// Error is a classified failure.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Hint suggests a concrete next step, when one exists.
	Hint string

	// Err is the wrapped cause, preserved for diagnostics.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so callers can compare against the
// sentinel returned by the per-kind constructors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithHint attaches an actionable hint and returns the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf reports the kind of err, or KindInternal when err was never
// classified.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindInternal
}

// HintOf returns the hint attached to err, if any.
func HintOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Hint
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}
