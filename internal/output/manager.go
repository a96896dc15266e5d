// internal/output/manager.go
package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

// NewSink creates the archive sink selected by configuration. It returns a
// nil Sink when archiving is disabled.
func NewSink(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (Sink, error) {
	logger = logger.With("component", "archive")

	switch ArchiveType(strings.ToLower(cfg.Type)) {
	case "", ArchiveNone:
		return nil, nil
	case ArchivePostgres:
		return withTimeout(ctx, cfg, func(ctx context.Context) (Sink, error) {
			sink, err := NewPostgreSQLSink(ctx, cfg.DSN, logger)
			if err != nil {
				return nil, err
			}
			return sink, nil
		})
	case ArchiveMySQL:
		return withTimeout(ctx, cfg, func(ctx context.Context) (Sink, error) {
			sink, err := NewMySQLSink(ctx, cfg.DSN, logger)
			if err != nil {
				return nil, err
			}
			return sink, nil
		})
	case ArchiveMongoDB:
		sink, err := NewMongoDBSink(ctx, cfg.DSN, cfg.Database, cfg.Collection, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}

func withTimeout(ctx context.Context, cfg config.ArchiveConfig, open func(context.Context) (Sink, error)) (Sink, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return open(ctx)
}
