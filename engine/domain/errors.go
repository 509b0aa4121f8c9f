package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion and query paths.
var (
	ErrUnsupportedSchema  = errors.New("unsupported IFC schema")
	ErrMissingGlobalID    = errors.New("missing globalId")
	ErrOrphanRelationship = errors.New("orphan relationship")
	ErrGenerationTimeout  = errors.New("query generation timed out")
	ErrMutatingQuery      = errors.New("generated query contains a mutating keyword")
)

// ParseError reports malformed STEP syntax with its location.
type ParseError struct {
	File   string
	Line   int
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s:%d (offset %d): %s", e.File, e.Line, e.Offset, e.Msg)
}

// UnsupportedSchemaError reports a FILE_SCHEMA declaration the system
// cannot map to a supported IFC version.
type UnsupportedSchemaError struct {
	File   string
	Schema string
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("%s: %v: %q", e.File, ErrUnsupportedSchema, e.Schema)
}

func (e *UnsupportedSchemaError) Unwrap() error { return ErrUnsupportedSchema }

// LoadError wraps a graph-store failure with file-level context so a
// batch run can report which file and batch failed.
type LoadError struct {
	File    string
	Batch   int
	Wrapped error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s (batch %d): %v", e.File, e.Batch, e.Wrapped)
}

func (e *LoadError) Unwrap() error { return e.Wrapped }

// ValidationMismatch reports a post-load count discrepancy between the
// in-memory model and the database. It is reported, never auto-corrected.
type ValidationMismatch struct {
	File     string
	Kind     string // "node" or "relationship"
	Label    string
	Expected int64
	Actual   int64
}

func (m ValidationMismatch) String() string {
	return fmt.Sprintf("%s: %s %s: expected %d, got %d", m.File, m.Kind, m.Label, m.Expected, m.Actual)
}

// QueryExecutionError reports a generated query that was rejected or
// failed to execute. Query-fatal for the single question only.
type QueryExecutionError struct {
	Query   string
	Wrapped error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query execution: %v (query: %s)", e.Wrapped, e.Query)
}

func (e *QueryExecutionError) Unwrap() error { return e.Wrapped }
