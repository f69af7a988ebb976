package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindForbidden
	KindNotFound
	KindInsufficientFunds
	KindRateLimited
	KindAuth
)

var kindCodes = map[Kind]string{
	KindInternal:          "INTERNAL",
	KindValidation:        "VALIDATION",
	KindConflict:          "CONFLICT",
	KindForbidden:         "FORBIDDEN",
	KindNotFound:          "NOT_FOUND",
	KindInsufficientFunds: "INSUFFICIENT_FUNDS",
	KindRateLimited:       "RATE_LIMITED",
	KindAuth:              "AUTH",
}

// Code is the stable wire name of the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindInternal]
}

func (k Kind) String() string { return k.Code() }

// Error is a classified failure carrying a client-safe message
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it as the cause
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func Conflict(format string, args ...any) *Error   { return New(KindConflict, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Auth(format string, args ...any) *Error       { return New(KindAuth, format, args...) }
func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, format, args...)
}
func InsufficientFunds(format string, args ...any) *Error {
	return New(KindInsufficientFunds, format, args...)
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing text for err. Internal failures never
// leak their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return "internal server error"
}

// HTTPStatus maps a kind to the REST status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict, KindInsufficientFunds, KindRateLimited:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
