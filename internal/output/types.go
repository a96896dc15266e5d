// internal/output/types.go
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// Sink archives finished jobs outside the retention-bound job store
type Sink interface {
	Archive(ctx context.Context, snap *jobs.Snapshot) error
	Close() error
}

// ArchiveType names a configured sink
type ArchiveType string

const (
	ArchiveNone     ArchiveType = "none"
	ArchivePostgres ArchiveType = "postgres"
	ArchiveMySQL    ArchiveType = "mysql"
	ArchiveMongoDB  ArchiveType = "mongodb"
)

// ValidArchiveTypes returns all accepted archive.type values
func ValidArchiveTypes() []ArchiveType {
	return []ArchiveType{ArchiveNone, ArchivePostgres, ArchiveMySQL, ArchiveMongoDB}
}

const (
	jobsTable    = "review_jobs"
	reviewsTable = "job_reviews"

	// rows per multi-value INSERT, well under the postgres bind parameter limit
	reviewInsertBatch = 200
)

var jobColumns = []string{
	"id", "source", "product_name", "state", "total_found", "raw_count",
	"average_rating", "overall_sentiment", "trust_score", "degraded", "summary",
	"created_at", "completed_at",
}

var reviewColumns = []string{
	"job_id", "position", "reviewer_name", "rating", "review_date", "title",
	"body", "source", "confidence", "store", "origin", "url",
}

func archivable(snap *jobs.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.State != types.StateSuccess || snap.Result == nil {
		return fmt.Errorf("job %s is %s, only finished jobs are archived", snap.ID, snap.State)
	}
	return nil
}

// archiveStatements builds the statements that replace any previous copy
// of the job: two deletes, the job row, then the reviews in batches.
func archiveStatements(builder sq.StatementBuilderType, snap *jobs.Snapshot) ([]sq.Sqlizer, error) {
	if err := archivable(snap); err != nil {
		return nil, err
	}
	summary, err := json.Marshal(snap.Result.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	s := snap.Result.Summary

	stmts := []sq.Sqlizer{
		builder.Delete(reviewsTable).Where(sq.Eq{"job_id": snap.ID}),
		builder.Delete(jobsTable).Where(sq.Eq{"id": snap.ID}),
		builder.Insert(jobsTable).Columns(jobColumns...).Values(
			snap.ID, string(snap.Request.Source), snap.Request.ProductName, string(snap.State),
			snap.Result.TotalFound, snap.Result.RawCount,
			s.AverageRating, string(s.OverallSentiment), nullFloat(s.TrustScore), s.Degraded || snap.Degraded,
			string(summary), snap.CreatedAt.UTC(), completedAt(snap).UTC(),
		),
	}

	reviews := snap.Result.Reviews
	for start := 0; start < len(reviews); start += reviewInsertBatch {
		end := min(start+reviewInsertBatch, len(reviews))
		insert := builder.Insert(reviewsTable).Columns(reviewColumns...)
		for i, r := range reviews[start:end] {
			insert = insert.Values(
				snap.ID, start+i, r.ReviewerName, nullFloat(r.Rating), r.Date, r.Title,
				r.Text, string(r.Source), r.Confidence, r.Store, r.Origin, r.URL,
			)
		}
		stmts = append(stmts, insert)
	}
	return stmts, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func completedAt(snap *jobs.Snapshot) time.Time {
	if snap.CompletedAt != nil {
		return *snap.CompletedAt
	}
	return snap.CreatedAt
}
