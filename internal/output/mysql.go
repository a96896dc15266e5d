// internal/output/mysql.go
package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

var mysqlSchema = []string{
	"CREATE TABLE IF NOT EXISTS `review_jobs` (" +
		"`id` VARCHAR(36) NOT NULL PRIMARY KEY," +
		"`source` VARCHAR(16) NOT NULL," +
		"`product_name` TEXT NOT NULL," +
		"`state` VARCHAR(16) NOT NULL," +
		"`total_found` INT NOT NULL," +
		"`raw_count` INT NOT NULL," +
		"`average_rating` DOUBLE NOT NULL," +
		"`overall_sentiment` VARCHAR(16) NOT NULL," +
		"`trust_score` DOUBLE NULL," +
		"`degraded` BOOLEAN NOT NULL DEFAULT FALSE," +
		"`summary` JSON NOT NULL," +
		"`created_at` DATETIME(6) NOT NULL," +
		"`completed_at` DATETIME(6) NOT NULL" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
	"CREATE TABLE IF NOT EXISTS `job_reviews` (" +
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
		"`job_id` VARCHAR(36) NOT NULL," +
		"`position` INT NOT NULL," +
		"`reviewer_name` TEXT NULL," +
		"`rating` DOUBLE NULL," +
		"`review_date` VARCHAR(32) NULL," +
		"`title` TEXT NULL," +
		"`body` TEXT NOT NULL," +
		"`source` VARCHAR(16) NOT NULL," +
		"`confidence` DOUBLE NOT NULL," +
		"`store` TEXT NULL," +
		"`origin` TEXT NULL," +
		"`url` TEXT NULL," +
		"KEY `idx_job_reviews_job` (`job_id`)," +
		"CONSTRAINT `fk_job_reviews_job` FOREIGN KEY (`job_id`) REFERENCES `review_jobs` (`id`) ON DELETE CASCADE" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
}

// mysqlDSN normalizes a go-sql-driver DSN for the archive connection
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewMySQLSink connects to dsn and creates the archive tables if absent
func NewMySQLSink(ctx context.Context, dsn string, logger *slog.Logger) (*SQLSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("MySQL connection string is required")
	}
	normalized, err := mysqlDSN(dsn)
	if err != nil {
		return nil, err
	}
	return openSQLSink(ctx, "mysql", "mysql", normalized, mysqlSchema, sq.StatementBuilder, logger)
}
