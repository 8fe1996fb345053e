// Package apperr defines the error kinds surfaced to API callers.
//
// Every failure that leaves the service carries a stable Kind and a message
// safe to show a client. The wrapped cause is kept for logs only.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthentication    Kind = "unauthenticated"
	KindNotFound          Kind = "not_found"
	KindStateConflict     Kind = "state_conflict"
	KindTransientUpstream Kind = "upstream_unavailable"
	KindPersistence       Kind = "persistence"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error    { return New(KindValidation, msg) }
func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func StateConflict(msg string) *Error { return New(KindStateConflict, msg) }

func Authentication(msg string, err error) *Error {
	return Wrap(KindAuthentication, msg, err)
}

func Upstream(msg string, err error) *Error {
	return Wrap(KindTransientUpstream, msg, err)
}

func Persistence(msg string, err error) *Error {
	return Wrap(KindPersistence, msg, err)
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Server error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
