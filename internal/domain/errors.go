package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the transport layer can pick a status class
// without inspecting messages.
type Kind string

const (
	KindNoInput           Kind = "no_input"
	KindInsufficientInput Kind = "insufficient_input"
	KindUnsupportedType   Kind = "unsupported_type"
	KindInvalidDocument   Kind = "invalid_document"
	KindMergeFailure      Kind = "merge_failure"
	KindPayloadTooLarge   Kind = "payload_too_large"
	KindInternal          Kind = "internal_failure"
)

// Error is the structured failure returned by every core operation. Message is
// safe to show to clients; Err carries internal detail for logs only.
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

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrNoInput           = &Error{Kind: KindNoInput}
	ErrInsufficientInput = &Error{Kind: KindInsufficientInput}
	ErrUnsupportedType   = &Error{Kind: KindUnsupportedType}
	ErrInvalidDocument   = &Error{Kind: KindInvalidDocument}
	ErrMergeFailure      = &Error{Kind: KindMergeFailure}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Errorf builds an *Error with a formatted client-facing message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as internal detail.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
// for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError converts err into an *Error, classifying unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Wrap(KindInternal, err, "Internal server error. Please try again.")
}
