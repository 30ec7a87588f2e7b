// Package apperr defines the error taxonomy shared by HTTP handlers and job
// runners, so both can make transport-status and retry/terminal decisions
// from the same classification.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independent of transport.
type Kind string

const (
	KindInput      Kind = "input"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

// Error wraps a Kind and an underlying cause.
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

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap annotates err with a Kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindFatal when err does not
// carry one.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindFatal
}

// Retryable reports whether a job runner should nack (redeliver) rather than
// terminally fail the message.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUpstream:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code handlers should return at the
// edge.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
