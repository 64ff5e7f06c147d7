// Package apperr defines the error kinds surfaced at the gateway boundary.
//
// Every error that leaves a component is either an *Error or gets classified
// as KindInternal. Handlers turn an error into a status code with HTTPStatus
// and into a user-safe message with Public; the wrapped cause is for logs only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindAuthentication
	KindAuthorization
	KindUpstreamProtocol
	KindTransientNetwork
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindUpstreamProtocol:
		return "upstream_protocol"
	case KindTransientNetwork:
		return "transient_network"
	default:
		return "internal"
	}
}

// Error is a classified failure. Code identifies the condition (two errors
// with the same Code match under errors.Is), Msg is safe to show to callers.
type Error struct {
	Kind Kind
	Code string
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

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap returns a copy of sentinel carrying err as its cause.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Msg: sentinel.Msg, Err: err}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: "validation", Msg: msg}
}

func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Code: "configuration", Msg: msg}
}

func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransientNetwork, Code: "upstream_unavailable", Msg: msg, Err: err}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamProtocol, Code: "upstream_protocol", Msg: msg, Err: err}
}

var ErrUnauthorized = New(KindAuthorization, "unauthorized", "Unauthorized")

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public returns the message that may be shown to the caller.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Internal server error"
}

func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		if e.Code == "invalid_phone" {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindUpstreamProtocol, KindTransientNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
