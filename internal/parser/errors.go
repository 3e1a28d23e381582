package parser

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Match with errors.Is.
var (
	ErrDateTime = errors.New("unable to parse date/time")
	ErrInteger  = errors.New("unable to parse expected integer value")
	ErrFloat    = errors.New("unable to parse expected float value")
)

// ErrorKind classifies a parse failure.
type ErrorKind int

const (
	// KindDateTime means the envelope date or time was malformed.
	KindDateTime ErrorKind = iota + 1
	// KindInteger means a peer id or coordinate was not a valid integer.
	KindInteger
	// KindFloat means a world save duration was not a valid float.
	KindFloat
)

// String returns the label used in storage and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindDateTime:
		return "datetime"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindDateTime:
		return ErrDateTime
	case KindInteger:
		return ErrInteger
	case KindFloat:
		return ErrFloat
	default:
		return errors.New("parse error")
	}
}

// ParseError is returned for a line that matched a known shape
// but carried a value that could not be converted.
type ParseError struct {
	Kind  ErrorKind
	Line  string
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind.sentinel(), e.Field)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind.sentinel(), e.Field, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying conversion error.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
