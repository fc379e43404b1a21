// Package failure defines the tagged error type shared by the top-up flows.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how it must be handled at a flow boundary.
type Kind string

// Failure kinds.
const (
	KindValidation Kind = "validation"
	KindProtocol   Kind = "protocol"
	KindTransport  Kind = "transport"
	KindUnknown    Kind = "unknown"
)

// Error is a classified failure. Code and Raw are only set for upstream failures.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Raw     string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Err != nil:
		return fmt.Sprintf("%s failure (code %s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s failure (code %s): %s", e.Kind, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s failure: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports bad subscriber input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Protocol reports a known non-zero gateway code.
func Protocol(code, message string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message}
}

// Transport wraps a network, status or decoding failure of an outbound call.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Message: op, Err: err}
}

// Unknown reports a gateway code outside the known tables. raw carries the
// full response for diagnosis.
func Unknown(code, raw string) *Error {
	return &Error{Kind: KindUnknown, Code: code, Message: "unknown error", Raw: raw}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown
// when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// As is a shorthand for errors.As with *Error.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
