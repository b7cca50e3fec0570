// Package bridgeerr defines the typed error vocabulary shared by every
// bridge component. Control verbs and the REST API translate a Code to
// their own surface instead of matching on error strings.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Code classifies a bridge error.
type Code int

const (
	// Unknown is the zero value; never returned deliberately.
	Unknown Code = iota
	// NotFound indicates a handle, peer, or resource does not exist.
	NotFound
	// Invalid indicates a buffer has been marked unexported (valid == false).
	Invalid
	// PeerDown indicates no ring or event channel exists for a peer VM.
	PeerDown
	// Timeout indicates a synchronous send exceeded its deadline.
	Timeout
	// Exhausted indicates the handle allocator has no free slots.
	Exhausted
	// StillReferenced indicates a share-engine teardown raced an outstanding map.
	StillReferenced
	// BadArg indicates a malformed or unsupported argument (e.g. unsupported shadow op).
	BadArg
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "NotFound"
	case Invalid:
		return "Invalid"
	case PeerDown:
		return "PeerDown"
	case Timeout:
		return "Timeout"
	case Exhausted:
		return "Exhausted"
	case StillReferenced:
		return "StillReferenced"
	case BadArg:
		return "BadArg"
	default:
		return "Unknown"
	}
}

// Error is the typed error value carried across component boundaries.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries cause as its Unwrap target.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, or Unknown if err is not (or does not
// wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
