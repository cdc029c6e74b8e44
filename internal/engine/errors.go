package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad marks a source that is missing, unreadable or corrupt.
	ErrLoad = errors.New("load failed")
	// ErrSchema marks data that does not conform to the incident schema.
	ErrSchema = errors.New("schema mismatch")
)

// LoadError reports a data source that could not be read.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// SchemaError reports a missing column or a value of the wrong type.
// Row is 1-based and counts data rows only; it is 0 for header problems.
type SchemaError struct {
	Source string
	Column string
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s: row %d column %q: %s", e.Source, e.Row, e.Column, e.Reason)
	}
	return fmt.Sprintf("%s: column %q: %s", e.Source, e.Column, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }
