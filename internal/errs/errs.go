// Package errs provides the shared error taxonomy used across every
// public operation in the control plane: authorization, validation,
// idempotency/state, availability, transport, and fatal errors.
//
// Every error carries a stable Code and a Retryable hint so callers
// can route failures without string-matching messages.
package errs

import "fmt"

// Category groups error Kinds the way spec.md §7 groups them.
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategoryValidation    Category = "validation"
	CategoryIdempotency   Category = "idempotency"
	CategoryAvailability  Category = "availability"
	CategoryTransport     Category = "transport"
	CategoryFatal         Category = "fatal"
)

// Kind is a stable, wire-visible error code.
type Kind string

const (
	KindTokenNotYetValid Kind = "TOKEN_NOT_YET_VALID"
	KindTokenExpired     Kind = "TOKEN_EXPIRED"
	KindMissingScope     Kind = "MISSING_SCOPE"
	KindStreamNotGranted Kind = "STREAM_NOT_GRANTED"

	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindInvalidEnum        Kind = "INVALID_ENUM"
	KindMissingField       Kind = "MISSING_FIELD"
	KindInvalidObjectField Kind = "INVALID_OBJECT_FIELD"

	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
	KindSequenceConflict    Kind = "SEQUENCE_CONFLICT"
	KindStaleCursor         Kind = "STALE_CURSOR"
	KindConflict            Kind = "CONFLICT"

	KindServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindDisconnect            Kind = "DISCONNECT"

	KindAuth        Kind = "TRANSPORT_AUTH"
	KindRateLimited Kind = "TRANSPORT_RATE_LIMITED"
	KindNetwork     Kind = "TRANSPORT_NETWORK"
	KindUnknown     Kind = "TRANSPORT_UNKNOWN"

	KindInternal       Kind = "INTERNAL"
	KindBinaryNotFound Kind = "BINARY_NOT_FOUND"
)

var kindCategory = map[Kind]Category{
	KindTokenNotYetValid: CategoryAuthorization,
	KindTokenExpired:     CategoryAuthorization,
	KindMissingScope:     CategoryAuthorization,
	KindStreamNotGranted: CategoryAuthorization,

	KindInvalidRequest:     CategoryValidation,
	KindInvalidEnum:        CategoryValidation,
	KindMissingField:       CategoryValidation,
	KindInvalidObjectField: CategoryValidation,

	KindIdempotencyConflict: CategoryIdempotency,
	KindSequenceConflict:    CategoryIdempotency,
	KindStaleCursor:         CategoryIdempotency,
	KindConflict:            CategoryIdempotency,

	KindServiceUnavailable:    CategoryAvailability,
	KindDependencyUnavailable: CategoryAvailability,
	KindDisconnect:            CategoryAvailability,

	KindAuth:        CategoryTransport,
	KindRateLimited: CategoryTransport,
	KindNetwork:     CategoryTransport,
	KindUnknown:     CategoryTransport,

	KindInternal:       CategoryFatal,
	KindBinaryNotFound: CategoryFatal,
}

// retryableKinds mirrors spec.md §7's "retryable with backoff" guidance.
var retryableKinds = map[Kind]bool{
	KindServiceUnavailable:    true,
	KindDependencyUnavailable: true,
	KindDisconnect:            true,
	KindRateLimited:           true,
	KindNetwork:               true,
}

// Error is the concrete type returned by every public operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Category returns the broad grouping this Kind belongs to.
func (e *Error) Category() Category { return kindCategory[e.Kind] }

// Retryable reports whether the same request may be retried, generally
// after backoff, without caller-side remediation.
func (e *Error) Retryable() bool { return retryableKinds[e.Kind] }

// New constructs a taxonomy error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a taxonomy error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details (e.g. expected/actual seq) and
// returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is enables errors.Is(err, errs.New(KindX, "")) style matching on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of extracts the Kind from err, if it is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}
