// Package apperr defines the user-facing error taxonomy shared by the
// scheduling, booking and payment components.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and HTTP translation.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAlreadyProcessed Kind = "already_processed"
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindConflict         Kind = "conflict"
	KindBlocked          Kind = "blocked"
	KindUnexpected       Kind = "unexpected"
)

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can use errors.Is with the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyProcessed = &Error{Kind: KindAlreadyProcessed}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrBlocked          = &Error{Kind: KindBlocked}
	ErrUnexpected       = &Error{Kind: KindUnexpected}
)

// NotFound reports a missing entity, or one the caller may not see.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// AlreadyProcessed reports a request or cancellation that left pending.
func AlreadyProcessed(msg string) *Error {
	return &Error{Kind: KindAlreadyProcessed, Message: msg}
}

// Validation reports bad input. fields names the offending inputs.
func Validation(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Authentication reports a failed signature or credential check.
func Authentication(msg string) *Error { return &Error{Kind: KindAuthentication, Message: msg} }

// Conflict reports a slot or uniqueness clash with existing state.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// Blocked reports a date closed to booking, such as a cancelled schedule.
func Blocked(msg string) *Error { return &Error{Kind: KindBlocked, Message: msg} }

// Unexpected wraps an internal failure behind a generic message.
func Unexpected(msg string, err error) *Error {
	return &Error{Kind: KindUnexpected, Message: msg, Err: err}
}

// KindOf reports the kind of err, or KindUnexpected for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyProcessed, KindValidation, KindAuthentication, KindBlocked:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnexpected && e.Message != "" {
		return e.Message
	}
	return "an unexpected error occurred"
}
