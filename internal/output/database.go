// internal/output/database.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
)

// SQLSink archives jobs into the review_jobs and job_reviews tables of a
// PostgreSQL or MySQL database.
type SQLSink struct {
	db      *sql.DB
	name    string
	builder sq.StatementBuilderType
	logger  *slog.Logger
}

func openSQLSink(ctx context.Context, driver, name, dsn string, schema []string, builder sq.StatementBuilderType, logger *slog.Logger) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s archive tables: %w", name, err)
		}
	}

	return &SQLSink{db: db, name: name, builder: builder, logger: logger}, nil
}

// Archive replaces any stored copy of the job in a single transaction
func (s *SQLSink) Archive(ctx context.Context, snap *jobs.Snapshot) error {
	stmts, err := archiveStatements(s.builder, snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		query, args, err := stmt.ToSql()
		if err != nil {
			return fmt.Errorf("build archive statement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%s archive %s: %w", s.name, snap.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s archive %s: commit: %w", s.name, snap.ID, err)
	}

	s.logger.Debug("archive.written", "job_id", snap.ID, "sink", s.name, "reviews", len(snap.Result.Reviews))
	return nil
}

func (s *SQLSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
