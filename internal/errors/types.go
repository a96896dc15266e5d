// internal/errors/types.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the pipeline
var (
	ErrNoContent         = stderrors.New("no retrievable content across all sources")
	ErrJobNotFound       = stderrors.New("job not found")
	ErrQueueFull         = stderrors.New("job queue is full")
	ErrRevoked           = stderrors.New("job revoked")
	ErrInvalidTransition = stderrors.New("invalid job state transition")
	ErrCircuitOpen       = stderrors.New("circuit breaker is open")
)

// FetchError is a network or HTTP failure for a single URL
type FetchError struct {
	URL        string
	StatusCode int
	Attempt    int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: HTTP %d (attempt %d)", e.URL, e.StatusCode, e.Attempt)
	}
	return fmt.Sprintf("fetch %s: %v (attempt %d)", e.URL, e.Err, e.Attempt)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed
func (e *FetchError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		// transport failure; context cancellation is final
		if stderrors.Is(e.Err, context.Canceled) || stderrors.Is(e.Err, context.DeadlineExceeded) {
			return false
		}
		return e.Err != nil
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500 && e.StatusCode <= 504:
		return true
	case e.StatusCode >= 520 && e.StatusCode <= 524:
		return true
	}
	return false
}

// RenderEscalationLimitError means the job already used all of its browser renders
type RenderEscalationLimitError struct {
	URL   string
	Limit int
}

func (e *RenderEscalationLimitError) Error() string {
	return fmt.Sprintf("render escalation limit (%d) reached, skipping %s", e.Limit, e.URL)
}

// ValidationServiceError means the language-model call failed or returned unusable output
type ValidationServiceError struct {
	Op  string
	Err error
}

func (e *ValidationServiceError) Error() string {
	return fmt.Sprintf("validation service %s: %v", e.Op, e.Err)
}

func (e *ValidationServiceError) Unwrap() error { return e.Err }

// JobTimeoutError means a job exceeded its hard time limit
type JobTimeoutError struct {
	JobID string
	Limit time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded time limit of %s", e.JobID, e.Limit)
}

// OrchestrationError is an unexpected internal failure while running a job
type OrchestrationError struct {
	JobID string
	Err   error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("job %s orchestration failure: %v", e.JobID, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// IsFatal reports whether err must end the job rather than be absorbed
func IsFatal(err error) bool {
	var timeout *JobTimeoutError
	var orch *OrchestrationError
	return stderrors.As(err, &timeout) || stderrors.As(err, &orch) ||
		stderrors.Is(err, ErrNoContent) || stderrors.Is(err, ErrRevoked)
}
