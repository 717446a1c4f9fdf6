// Package ingest replays recorded browser signals into page sessions.
package ingest

import (
	"context"
	"fmt"

	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/page"
)

// RecordSource abstracts record production for testing.
// Implementations should close both channels when ctx is cancelled or input ends.
type RecordSource interface {
	// Start begins producing records. The error channel may receive multiple
	// non-fatal errors during operation.
	Start(ctx context.Context) (<-chan Record, <-chan error, error)
}

// Record is one line of a signal recording. Session is a label local to the
// recording; exactly one of Open, Signal or Close is set.
type Record struct {
	Session string           `json:"session"`
	Open    *app.OpenRequest `json:"open,omitempty"`
	Signal  *page.Signal     `json:"signal,omitempty"`
	Close   bool             `json:"close,omitempty"`

	// Line is the 1-based source line, zero when not read from a file.
	Line int `json:"-"`
}

// Validate checks the record shape.
func (r Record) Validate() error {
	if r.Session == "" {
		return fmt.Errorf("record: session label is required")
	}
	n := 0
	if r.Open != nil {
		n++
	}
	if r.Signal != nil {
		n++
	}
	if r.Close {
		n++
	}
	if n != 1 {
		return fmt.Errorf("record %q: exactly one of open, signal, close must be set", r.Session)
	}
	return nil
}

// ParseError wraps a parse failure with the original line.
type ParseError struct {
	Line    string
	LineNum int
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %v", e.LineNum, e.Err)
	}
	return fmt.Sprintf("line %d: parse error", e.LineNum)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
