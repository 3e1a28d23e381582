package store

import "errors"

var (
	// ErrInvalidCursor is returned when a page cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor format")

	// ErrInvalidEvent is returned when a record fails validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrEmptyLine is returned when a parse failure has no raw line.
	ErrEmptyLine = errors.New("raw_line is required")
)
