package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("invalid alert")
	ErrNotFound       = errors.New("alert not found")
	ErrTransport      = errors.New("alert store unavailable")
	ErrTerminalStatus = errors.New("alert status is terminal")
)

// ValidationError rejects a malformed draft before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alert: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransportError wraps a failure of the backing store or the network in
// front of it.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
