package serialframe

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame means the frame did not hold exactly NumFields values.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrOutOfRangeField means a binary sensor value was not Low or High.
	ErrOutOfRangeField = errors.New("field out of range")
)

// FrameError describes a discarded frame. It unwraps to ErrMalformedFrame or
// ErrOutOfRangeField.
type FrameError struct {
	Kind   error
	Fields int   // fields found before the frame was rejected
	Field  Field // offending field, only for ErrOutOfRangeField
	Value  int
	Reason string
}

func (e *FrameError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrOutOfRangeField) && e.Reason != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	case errors.Is(e.Kind, ErrOutOfRangeField):
		return fmt.Sprintf("%v: %s=%d", e.Kind, e.Field, e.Value)
	case e.Reason != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	default:
		return fmt.Sprintf("%v: got %d fields, want %d", e.Kind, e.Fields, NumFields)
	}
}

func (e *FrameError) Unwrap() error { return e.Kind }

func malformed(fields int, reason string) *FrameError {
	return &FrameError{Kind: ErrMalformedFrame, Fields: fields, Reason: reason}
}

func outOfRange(f Field, v int) *FrameError {
	return &FrameError{Kind: ErrOutOfRangeField, Fields: NumFields, Field: f, Value: v}
}

// outOfRangeToken rejects an ASCII field that parses as a number but is not
// written as a bare 0 or 1.
func outOfRangeToken(f Field, v int, tok string) *FrameError {
	e := outOfRange(f, v)
	e.Reason = fmt.Sprintf("%s=%q, want 0 or 1", f, tok)
	return e
}
