// Package apperr defines the stable error kinds surfaced by the service.
// Every error returned across a service boundary carries one kind and a
// human-readable reason; callers branch on the kind, never on the text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(reason string) error { return &Error{Kind: KindValidation, Reason: reason} }
func NotFound(reason string) error   { return &Error{Kind: KindNotFound, Reason: reason} }
func Conflict(reason string) error   { return &Error{Kind: KindConflict, Reason: reason} }
func Forbidden(reason string) error  { return &Error{Kind: KindForbidden, Reason: reason} }

// Internal wraps a persistence or aggregation failure.
func Internal(reason string, err error) error {
	return &Error{Kind: KindInternal, Reason: reason, Err: err}
}

// KindOf extracts the kind from any error in the chain. Unclassified
// errors are reported as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reason returns the human-readable reason of a classified error, or the
// plain error text otherwise.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// HTTPStatus maps an error kind to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
