// internal/jobs/store.go
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

// Store keeps job records for the retention window. Only the owning worker
// writes a record; pollers only read.
type Store interface {
	Get(ctx context.Context, id string) (*Snapshot, error)
	PutWithMetadata(ctx context.Context, snap *Snapshot, ttl time.Duration) error
	Expire(ctx context.Context, id string, ttl time.Duration) error
	// Unfinished lists live records that are not in a terminal state
	Unfinished(ctx context.Context) ([]*Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewStore creates the store selected by configuration
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewMemoryStore(cfg.PurgeInterval), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath, cfg.PurgeInterval, logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
