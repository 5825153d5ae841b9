// Package repoerr defines the error taxonomy shared by every component
// of the snapshot engine. Each error carries a Kind that the transport
// layer maps onto its wire representation.
package repoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the retry policy.
type Kind int

const (
	// KindUnknown is the zero value; errors without a taxonomy kind.
	KindUnknown Kind = iota

	// KindInvalidInput marks a malformed repository identifier,
	// revision, or path. Never retried.
	KindInvalidInput

	// KindAuth marks rejected or insufficient credentials. Never retried.
	KindAuth

	// KindNotFound marks an absent repository, revision, or path.
	KindNotFound

	// KindNetwork marks a transient transport failure. Retried a
	// bounded number of times before surfacing.
	KindNetwork

	// KindTooLarge marks a blob exceeding the configured size guard.
	KindTooLarge

	// KindDataIntegrity marks a violated internal invariant. Always a
	// defect signal; fatal for the request, never for the process.
	KindDataIntegrity
)

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	case KindTooLarge:
		return "too_large"
	case KindDataIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failing operation in
// "package.Operation" form.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error may succeed on retry. Only
// transient network failures qualify; auth and not-found propagate
// immediately.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}
