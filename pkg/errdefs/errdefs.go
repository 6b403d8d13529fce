package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure. Every error crossing a package
// boundary in ArtStore carries exactly one Kind; HTTP handlers map kinds to
// status codes at the edge.
type Kind string

const (
	KindModeDenied          Kind = "mode_denied"
	KindInsufficientStorage Kind = "insufficient_storage"
	KindAttrTooLarge        Kind = "attr_too_large"
	KindNotFound            Kind = "not_found"
	KindGoneArchived        Kind = "gone_archived"
	KindConflictWALInFlight Kind = "conflict_wal_in_flight"
	KindChecksumMismatch    Kind = "checksum_mismatch"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindRebuildInProgress   Kind = "rebuild_in_progress"
	KindInvalidTransition   Kind = "invalid_transition"
	KindTokenInvalid        Kind = "token_invalid"
	KindTokenExpired        Kind = "token_expired"
	KindForbidden           Kind = "forbidden"
	KindRateLimited         Kind = "rate_limited"
	KindAccountLocked       Kind = "account_locked"
	KindFileTooLarge        Kind = "file_too_large"
	KindValidation          Kind = "validation"
	KindInternal            Kind = "internal"
)

// Error is a kinded error with an operator-facing message and optional
// structured details safe to return to callers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a kinded error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a kinded error with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error wrapping a cause
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches caller-visible details to the error
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf returns the Kind carried by err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
