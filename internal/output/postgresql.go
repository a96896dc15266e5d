// internal/output/postgresql.go
package output

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS review_jobs (
	id                VARCHAR(36) PRIMARY KEY,
	source            VARCHAR(16) NOT NULL,
	product_name      TEXT NOT NULL,
	state             VARCHAR(16) NOT NULL,
	total_found       INTEGER NOT NULL,
	raw_count         INTEGER NOT NULL,
	average_rating    DOUBLE PRECISION NOT NULL,
	overall_sentiment VARCHAR(16) NOT NULL,
	trust_score       DOUBLE PRECISION,
	degraded          BOOLEAN NOT NULL DEFAULT FALSE,
	summary           JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS job_reviews (
	id            BIGSERIAL PRIMARY KEY,
	job_id        VARCHAR(36) NOT NULL REFERENCES review_jobs(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	reviewer_name TEXT,
	rating        DOUBLE PRECISION,
	review_date   VARCHAR(32),
	title         TEXT,
	body          TEXT NOT NULL,
	source        VARCHAR(16) NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	store         TEXT,
	origin        TEXT,
	url           TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_job_reviews_job ON job_reviews(job_id)`,
}

func postgresBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// NewPostgreSQLSink connects to dsn and creates the archive tables if absent
func NewPostgreSQLSink(ctx context.Context, dsn string, logger *slog.Logger) (*SQLSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	return openSQLSink(ctx, "postgres", "postgres", dsn, postgresSchema, postgresBuilder(), logger)
}
