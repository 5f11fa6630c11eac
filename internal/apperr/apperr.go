// Package apperr holds the closed set of error kinds the services report.
// Boundaries dispatch on Kind via errors.As, never on message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a tagged domain error. Status carries the HTTP status of a remote
// call when the error was produced from one, zero otherwise.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns a copy carrying structured details.
func (e *Error) WithDetails(d any) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

// WithStatus returns a copy tagged with a remote HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func Upstream(status int, msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: "UPSTREAM_FAILURE", Message: msg, Status: status, Err: cause}
}

// Transport classifies a failed outbound call to service: timeouts, from the
// context or the client's own deadline, are 504 and anything else is 502.
func Transport(service string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return Upstream(http.StatusGatewayTimeout, service+" service timed out", err)
	}
	return Upstream(http.StatusBadGateway, service+" service unavailable", err)
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: msg, Err: cause}
}

// As extracts the first *Error in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; untagged errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps err to a response status. Upstream errors keep the remote
// status when it is an error status.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
