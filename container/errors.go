package container

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming reports a structural violation: truncated input, unbalanced
	// brackets, missing or unknown sections, trailing bytes.
	ErrFraming = errors.New("container: framing error")

	// ErrMalformedField reports a field that is framed correctly but cannot
	// be interpreted: unknown tag, bad value text, count mismatch.
	ErrMalformedField = errors.New("container: malformed field")

	// ErrFrameTooLarge is returned by FrameReader when a frame exceeds its limits.
	ErrFrameTooLarge = errors.New("container: frame too large")

	// ErrInvalidVersion rejects a header version that is not empty or up to
	// four dotted numbers.
	ErrInvalidVersion = errors.New("container: invalid version")

	// ErrKindMismatch is returned by typed Value accessors.
	ErrKindMismatch = errors.New("container: value kind mismatch")
)

// FramingError carries the byte offset where framing broke down.
type FramingError struct {
	Offset int
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("container: framing error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FramingError) Unwrap() error {
	return ErrFraming
}

// FieldError describes a malformed field.
type FieldError struct {
	Field  string // field name, or header id for header entries
	Offset int    // offset of the opening bracket
	Reason string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("container: malformed field at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("container: malformed field %q at offset %d: %s", e.Field, e.Offset, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrMalformedField
}
