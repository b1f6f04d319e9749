package vts

import "fmt"

// ErrorKind classifies every failure a canister handler can return. Handlers
// never leak raw Go errors across the wire; they are always folded into one
// of these kinds first.
type ErrorKind string

const (
	ErrInternal               ErrorKind = "Internal"
	ErrAlreadyExists          ErrorKind = "AlreadyExists"
	ErrNotFound               ErrorKind = "NotFound"
	ErrInvalidSigner          ErrorKind = "InvalidSigner"
	ErrUnauthorized           ErrorKind = "Unauthorized"
	ErrInvalidSignature       ErrorKind = "InvalidSignature"
	ErrInvalidSignatureFormat ErrorKind = "InvalidSignatureFormat"
	ErrDecodeTelemetry        ErrorKind = "DecodeTelemetry"
	ErrInvalidData            ErrorKind = "InvalidData"
)

// Error is the canonical handler error: a kind plus a human-readable detail.
// Both Kind and Detail cross the wire to RPC clients.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// NewError builds an *Error, formatting Detail like fmt.Sprintf.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to Internal for errors
// that did not originate as a *vts.Error (e.g. a codec or I/O failure).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ve, ok := err.(*Error); ok {
		return ve.Kind
	}
	return ErrInternal
}
