// pkg/ingest/errors.go
package ingest

import (
	"fmt"
)

// ParseError means the payload is not well-formed JSON. Never retried; the
// file is quarantined instead.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means the payload parsed but failed content validation
// below the quality threshold. Never retried.
type ValidationError struct {
	File   string
	Score  float64
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: score %.2f, %d issues", e.File, e.Score, len(e.Issues))
}

// TransientError marks a failure worth retrying on a later run: network,
// storage, and database errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError unless it is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}
