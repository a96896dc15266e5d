// internal/config/validation.go
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a single invalid setting
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
}

// ValidationErrors collects every problem found in one pass
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks ranges and backend-specific requirements
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Fetcher.RetryAttempts < 0 || c.Fetcher.RetryAttempts > 10 {
		add("fetcher.retry_attempts", "must be between 0 and 10, got %d", c.Fetcher.RetryAttempts)
	}
	if c.Fetcher.RateLimit < 0 {
		add("fetcher.rate_limit", "must not be negative")
	}
	if c.Fetcher.RenderLimit < 0 {
		add("fetcher.render_limit", "must not be negative")
	}
	if c.Fetcher.Concurrency < 1 {
		add("fetcher.concurrency", "must be at least 1")
	}

	c.validateProxy(add)

	if c.Server.URLPolicy.MaxURLLength < 64 {
		add("server.url_policy.max_url_length", "must be at least 64, got %d", c.Server.URLPolicy.MaxURLLength)
	}

	if c.Extraction.MinLength > c.Extraction.MaxLength {
		add("extraction.min_length", "must not exceed max_length (%d > %d)", c.Extraction.MinLength, c.Extraction.MaxLength)
	}
	if c.Extraction.OpinionMinLength > c.Extraction.MinLength {
		add("extraction.opinion_min_length", "must not exceed min_length")
	}

	for path, v := range map[string]float64{
		"dedupe.store_threshold":         c.Dedupe.StoreThreshold,
		"dedupe.community_threshold":     c.Dedupe.CommunityThreshold,
		"dedupe.shopping_threshold":      c.Dedupe.ShoppingThreshold,
		"validator.acceptance_threshold": c.Validator.AcceptanceThreshold,
		"validator.fallback_confidence":  c.Validator.FallbackConfidence,
	} {
		if v <= 0 || v > 1 {
			add(path, "must be in (0, 1], got %v", v)
		}
	}

	switch c.Validator.Provider {
	case "openai", "anthropic", "ollama":
	default:
		add("validator.provider", "unsupported provider %q", c.Validator.Provider)
	}
	if c.Validator.Enabled && c.Validator.Provider != "ollama" && c.Validator.APIKey == "" {
		add("validator.api_key", "required for provider %q", c.Validator.Provider)
	}
	if c.Validator.BatchSize < 1 || c.Validator.BatchSize > 50 {
		add("validator.batch_size", "must be between 1 and 50, got %d", c.Validator.BatchSize)
	}

	if c.Jobs.Workers < 1 {
		add("jobs.workers", "must be at least 1")
	}
	if c.Jobs.QueueSize < 1 {
		add("jobs.queue_size", "must be at least 1")
	}
	if c.Jobs.SoftTimeLimit > c.Jobs.TimeLimit {
		add("jobs.soft_time_limit", "must not exceed time_limit")
	}
	if c.Jobs.SnapshotBatch < 1 {
		add("jobs.snapshot_batch", "must be at least 1")
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			add("store.redis_url", "required for redis store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path", "required for sqlite store")
		}
	default:
		add("store.type", "unsupported store %q", c.Store.Type)
	}

	switch c.Archive.Type {
	case "none":
	case "postgres", "mysql", "mongodb":
		if c.Archive.DSN == "" {
			add("archive.dsn", "required for %s archive", c.Archive.Type)
		}
	default:
		add("archive.type", "unsupported archive %q", c.Archive.Type)
	}

	if _, err := url.ParseRequestURI(c.Community.RedditBaseURL); err != nil {
		add("community.reddit_base_url", "invalid URL: %v", err)
	}
	if c.Community.SearxURL != "" {
		if _, err := url.ParseRequestURI(c.Community.SearxURL); err != nil {
			add("community.searx_url", "invalid URL: %v", err)
		}
	}

	if c.Shopping.StableRounds > c.Shopping.MaxRounds {
		add("shopping.stable_rounds", "must not exceed max_rounds")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateProxy(add func(path, format string, args ...interface{})) {
	p := c.Fetcher.Proxy
	switch p.Rotation {
	case "round_robin", "random", "weighted":
	default:
		add("fetcher.proxy.rotation", "unsupported rotation %q", p.Rotation)
	}
	if p.FailureThreshold < 1 {
		add("fetcher.proxy.failure_threshold", "must be at least 1")
	}

	enabled := 0
	for i, provider := range p.Providers {
		path := fmt.Sprintf("fetcher.proxy.providers[%d]", i)
		switch provider.Type {
		case "http", "https", "socks5":
		default:
			add(path+".type", "unsupported proxy type %q", provider.Type)
		}
		if provider.Host == "" {
			add(path+".host", "is required")
		}
		if provider.Port < 1 || provider.Port > 65535 {
			add(path+".port", "must be between 1 and 65535, got %d", provider.Port)
		}
		if provider.Enabled {
			enabled++
		}
	}
	if p.Enabled && enabled == 0 {
		add("fetcher.proxy.providers", "at least one enabled provider is required when proxies are enabled")
	}
}
