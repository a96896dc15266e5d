// internal/jobs/sqlite_store.go
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS job_records (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_records_expires ON job_records(expires_at);`

// SQLiteStore persists job records in a local SQLite file so they survive restarts
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// NewSQLiteStore opens (or creates) the database at path. A positive
// purgeInterval starts a loop deleting expired rows.
func NewSQLiteStore(ctx context.Context, path string, purgeInterval time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create job_records table: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now, stopCh: make(chan struct{})}
	if purgeInterval > 0 {
		go s.purgeLoop(purgeInterval)
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	query, args, err := sq.Select("payload").
		From("job_records").
		Where(sq.Eq{"id": id}).
		Where(sq.Gt{"expires_at": s.now().UnixMilli()}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var payload string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) PutWithMetadata(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", snap.ID, err)
	}
	now := s.now()
	query, args, err := sq.Insert("job_records").
		Columns("id", "state", "payload", "updated_at", "expires_at").
		Values(snap.ID, string(snap.State), string(payload), now.UnixMilli(), now.Add(ttl).UnixMilli()).
		Suffix("ON CONFLICT(id) DO UPDATE SET state = excluded.state, payload = excluded.payload, " +
			"updated_at = excluded.updated_at, expires_at = excluded.expires_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite put %s: %w", snap.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	query, args, err := sq.Update("job_records").
		Set("expires_at", s.now().Add(ttl).UnixMilli()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite expire %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Unfinished(ctx context.Context) ([]*Snapshot, error) {
	query, args, err := sq.Select("payload").
		From("job_records").
		Where(sq.Eq{"state": []string{
			string(types.StatePending), string(types.StateStarted), string(types.StateProgress),
		}}).
		Where(sq.Gt{"expires_at": s.now().UnixMilli()}).
		OrderBy("updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite unfinished: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite unfinished: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("decode job record: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the purge loop and closes the database
func (s *SQLiteStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

// Purge deletes expired rows and returns how many were removed
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	query, args, err := sq.Delete("job_records").
		Where(sq.LtOrEq{"expires_at": s.now().UnixMilli()}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.Purge(context.Background())
			if err != nil {
				s.logger.Warn("store.purge_failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("store.purged", "rows", n)
			}
		}
	}
}
