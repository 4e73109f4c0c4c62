package heightmap

import (
	"errors"
	"net/http"
	"strings"
)

// A Kind classifies an Error.
type Kind string

const (
	KindInput      Kind = "input"
	KindNotFound   Kind = "not_found"
	KindUpstream   Kind = "upstream"
	KindProcessing Kind = "processing"
)

// An Error is an error with a kind and a message that is safe to show to
// clients. Err holds the underlying cause, which may contain paths.
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Status int // Upstream HTTP status, if any.
	Err    error
}

// NewError returns a new Error.
func NewError(kind Kind, op, msg string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Msg:  msg,
		Err:  err,
	}
}

// UpstreamError returns a new Error for a failed call to a third party.
// status is the upstream HTTP status, or zero if no response was received.
func UpstreamError(op, msg string, status int, err error) *Error {
	return &Error{
		Kind:   KindUpstream,
		Op:     op,
		Msg:    msg,
		Status: status,
		Err:    err,
	}
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.Op, e.Msg} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that are not an *Error are
// processing errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProcessing
}

// HTTPStatus returns the HTTP status code to report for err.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UpstreamStatus returns the HTTP status returned by the third party that
// caused err, or zero if there is none.
func UpstreamStatus(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindUpstream {
		return e.Status
	}
	return 0
}

// PublicMessage returns a message describing err that is safe to return to
// clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}
