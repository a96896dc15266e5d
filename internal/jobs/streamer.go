// internal/jobs/streamer.go
package jobs

import (
	"context"

	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// PublishFunc writes a PROGRESS snapshot carrying the full accumulated list
type PublishFunc func(ctx context.Context, reviews []types.NormalizedReview, total int) error

// Streamer accumulates accepted reviews for one job and publishes a snapshot
// every batch new reviews. The list only grows.
type Streamer struct {
	publish PublishFunc
	limit   int
	batch   int

	reviews []types.NormalizedReview
	found   int
	total   int
	pending int
}

// NewStreamer creates a streamer capped at limit reviews (0 = no cap)
func NewStreamer(limit, batch int, publish PublishFunc) *Streamer {
	if batch <= 0 {
		batch = 10
	}
	return &Streamer{publish: publish, limit: limit, batch: batch}
}

// SetTotal records the number of candidates discovered so far
func (s *Streamer) SetTotal(n int) { s.total = n }

// Add appends accepted reviews, publishing whenever a batch fills
func (s *Streamer) Add(ctx context.Context, reviews ...types.NormalizedReview) error {
	for _, r := range reviews {
		s.found++
		if s.limit > 0 && len(s.reviews) >= s.limit {
			continue
		}
		s.reviews = append(s.reviews, r)
		s.pending++
		if s.pending >= s.batch {
			if err := s.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush publishes reviews added since the last snapshot
func (s *Streamer) Flush(ctx context.Context) error {
	if s.pending == 0 {
		return nil
	}
	if err := s.publish(ctx, s.Reviews(), s.total); err != nil {
		return err
	}
	s.pending = 0
	return nil
}

// Reviews returns a copy of the accumulated list
func (s *Streamer) Reviews() []types.NormalizedReview {
	return append([]types.NormalizedReview(nil), s.reviews...)
}

// Found returns the number of accepted reviews including those past the cap
func (s *Streamer) Found() int { return s.found }
