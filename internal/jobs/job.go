// internal/jobs/job.go
package jobs

import (
	"errors"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/adapters"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

var (
	ErrNotFound  = apperrors.ErrJobNotFound
	ErrQueueFull = apperrors.ErrQueueFull
	ErrNoContent = apperrors.ErrNoContent
	ErrRevoked   = apperrors.ErrRevoked

	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrTerminal rejects writes to a job that already finished
	ErrTerminal = errors.New("job already in a terminal state")
	// ErrShuttingDown is returned by Submit after Shutdown
	ErrShuttingDown = errors.New("orchestrator is shutting down")
	// ErrInterrupted fails jobs a previous process left running
	ErrInterrupted = errors.New("job interrupted by service restart")
)

// Snapshot is the stored record of one job
type Snapshot struct {
	ID          string                   `json:"job_id"`
	Request     types.JobRequest         `json:"request"`
	State       types.JobState           `json:"status"`
	Current     int                      `json:"current"`
	Total       int                      `json:"total"`
	Reviews     []types.NormalizedReview `json:"reviews,omitempty"`
	Result      *types.JobResult         `json:"result,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Collection  *adapters.Collection     `json:"collection,omitempty"`
	Degraded    bool                     `json:"degraded,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no slices with s
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Reviews = copyReviews(s.Reviews)
	if s.Result != nil {
		r := *s.Result
		r.Reviews = copyReviews(s.Result.Reviews)
		c.Result = &r
	}
	if s.Collection != nil {
		col := *s.Collection
		c.Collection = &col
	}
	return &c
}

func copyReviews(in []types.NormalizedReview) []types.NormalizedReview {
	if in == nil {
		return nil
	}
	return append(make([]types.NormalizedReview, 0, len(in)), in...)
}

// Supersedes reports whether s is a later point in the job's life than prev.
// PROGRESS snapshots are ordered by review count.
func (s *Snapshot) Supersedes(prev *Snapshot) bool {
	sr, pr := stateRank(s.State), stateRank(prev.State)
	if sr != pr {
		return sr > pr
	}
	return s.State == types.StateProgress && s.Current > prev.Current
}

func stateRank(s types.JobState) int {
	switch s {
	case types.StatePending:
		return 0
	case types.StateStarted:
		return 1
	case types.StateProgress:
		return 2
	default:
		return 3
	}
}

// Status renders the polling document for the snapshot's state
func (s *Snapshot) Status() types.JobStatus {
	doc := types.JobStatus{JobID: s.ID, Status: s.State}
	switch s.State {
	case types.StateProgress:
		current, total := s.Current, s.Total
		doc.Current = &current
		doc.Total = &total
		doc.Reviews = s.Reviews
	case types.StateSuccess:
		doc.Result = s.Result
	case types.StateFailure:
		doc.Error = s.Error
	}
	return doc
}
