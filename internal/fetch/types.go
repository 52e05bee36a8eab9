package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status indicates the outcome of a fetch operation.
type Status string

const (
	StatusFound    Status = "FOUND"
	StatusNotFound Status = "NOT_FOUND"
)

// ErrKind classifies a fetcher failure. Callers treat every kind the same
// as NOT_FOUND for that source, but the kind is kept for the tool-use log.
type ErrKind string

const (
	ErrTimeout   ErrKind = "timeout"
	ErrTransport ErrKind = "transport"
	ErrParse     ErrKind = "parse"
)

// SourceError is a per-source fetch failure. It never aborts a retrieval;
// the engine logs it and moves on to the next candidate.
type SourceError struct {
	Source string
	Kind   ErrKind
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// AsSourceError extracts a *SourceError from err, if present.
func AsSourceError(err error) (*SourceError, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Result is the standardized outcome of any fetcher invocation.
type Result struct {
	Status      Status         `json:"status"`
	Source      string         `json:"source"`
	Confidence  float64        `json:"confidence"`
	Summary     string         `json:"summary"`
	URL         string         `json:"url,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	RetrievedAt time.Time      `json:"retrieved_at"`
}

// Found builds a FOUND result with confidence clamped to [0, 1].
func Found(source, summary string, confidence float64) Result {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Result{
		Status:      StatusFound,
		Source:      source,
		Confidence:  confidence,
		Summary:     summary,
		RetrievedAt: time.Now().UTC(),
	}
}

// NotFound builds a NOT_FOUND result for the given source.
func NotFound(source string) Result {
	return Result{
		Status:      StatusNotFound,
		Source:      source,
		RetrievedAt: time.Now().UTC(),
	}
}

// Fetcher is the uniform capability every external source adapter exposes.
// Implementations must respect ctx and enforce their own request timeout;
// an unresponsive upstream must never block retrieval indefinitely.
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context, query string) (Result, error)
}
