// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML configuration after ${VAR} substitution
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader reads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return LoadFromBytes(data)
}

// Load returns the file configuration when path is set, otherwise Default
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFromFile(path)
}

// Default returns a fully defaulted configuration
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills every zero value with its default
func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Address == "" {
		s.Address = ":8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 20 * time.Second
	}
	if s.SubmitRateLimit == 0 {
		s.SubmitRateLimit = 10
	}
	if s.SubmitRateBurst == 0 {
		s.SubmitRateBurst = 20
	}
	if s.URLPolicy.MaxURLLength == 0 {
		s.URLPolicy.MaxURLLength = 2048
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	f := &cfg.Fetcher
	if f.Timeout == 0 {
		f.Timeout = 30 * time.Second
	}
	if f.RetryAttempts == 0 {
		f.RetryAttempts = 3
	}
	if f.RetryDelay == 0 {
		f.RetryDelay = time.Second
	}
	if f.MaxRetryDelay == 0 {
		f.MaxRetryDelay = 30 * time.Second
	}
	if f.RateLimit == 0 {
		f.RateLimit = 2.0
	}
	if f.RateBurst == 0 {
		f.RateBurst = 5
	}
	if f.MaxBodyBytes == 0 {
		f.MaxBodyBytes = 5 << 20
	}
	if f.RenderLimit == 0 {
		f.RenderLimit = 2
	}
	if f.Concurrency == 0 {
		f.Concurrency = 3
	}
	if f.BreakerFailures == 0 {
		f.BreakerFailures = 5
	}
	if f.BreakerReset == 0 {
		f.BreakerReset = time.Minute
	}
	if f.Proxy.Rotation == "" {
		f.Proxy.Rotation = "round_robin"
	}
	if f.Proxy.FailureThreshold == 0 {
		f.Proxy.FailureThreshold = 3
	}
	if f.Proxy.RecoveryTime == 0 {
		f.Proxy.RecoveryTime = 5 * time.Minute
	}

	b := &cfg.Browser
	if b.Timeout == 0 {
		b.Timeout = 45 * time.Second
	}
	if b.WaitDelay == 0 {
		b.WaitDelay = 2 * time.Second
	}
	if b.PoolSize == 0 {
		b.PoolSize = 2
	}
	if b.ViewportWidth == 0 {
		b.ViewportWidth = 1920
	}
	if b.ViewportHeight == 0 {
		b.ViewportHeight = 1080
	}

	e := &cfg.Extraction
	if e.MinLength == 0 {
		e.MinLength = 50
	}
	if e.MaxLength == 0 {
		e.MaxLength = 3000
	}
	if e.MinWords == 0 {
		e.MinWords = 5
	}
	if e.OpinionMinLength == 0 {
		e.OpinionMinLength = 30
	}

	d := &cfg.Dedupe
	if d.StoreThreshold == 0 {
		d.StoreThreshold = 0.90
	}
	if d.CommunityThreshold == 0 {
		d.CommunityThreshold = 0.90
	}
	if d.ShoppingThreshold == 0 {
		d.ShoppingThreshold = 0.95
	}

	v := &cfg.Validator
	if v.Provider == "" {
		v.Provider = "openai"
	}
	if v.Model == "" {
		v.Model = defaultModel(v.Provider)
	}
	if v.BatchSize == 0 {
		v.BatchSize = 20
	}
	if v.Timeout == 0 {
		v.Timeout = 60 * time.Second
	}
	if v.AcceptanceThreshold == 0 {
		v.AcceptanceThreshold = 0.5
	}
	if v.FallbackConfidence == 0 {
		v.FallbackConfidence = v.AcceptanceThreshold
	}

	j := &cfg.Jobs
	if j.Workers == 0 {
		j.Workers = 4
	}
	if j.QueueSize == 0 {
		j.QueueSize = 100
	}
	if j.TimeLimit == 0 {
		j.TimeLimit = 30 * time.Minute
	}
	if j.SoftTimeLimit == 0 {
		j.SoftTimeLimit = 25 * time.Minute
	}
	if j.Retention == 0 {
		j.Retention = time.Hour
	}
	if j.SnapshotBatch == 0 {
		j.SnapshotBatch = 10
	}
	if j.StoreCap == 0 {
		j.StoreCap = 25
	}
	if j.CommunityCap == 0 {
		j.CommunityCap = 20
	}
	if j.ShoppingCap == 0 {
		j.ShoppingCap = 50
	}
	if j.ShoppingRawCap == 0 {
		j.ShoppingRawCap = 100
	}

	st := &cfg.Store
	if st.Type == "" {
		st.Type = "memory"
	}
	if st.KeyPrefix == "" {
		st.KeyPrefix = "reviewjob:"
	}
	if st.PurgeInterval == 0 {
		st.PurgeInterval = time.Minute
	}

	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "none"
	}
	if cfg.Archive.Timeout == 0 {
		cfg.Archive.Timeout = 10 * time.Second
	}
	if cfg.Archive.Type == "mongodb" {
		if cfg.Archive.Database == "" {
			cfg.Archive.Database = "reviews"
		}
		if cfg.Archive.Collection == "" {
			cfg.Archive.Collection = "review_jobs"
		}
	}

	c := &cfg.Community
	if c.RedditBaseURL == "" {
		c.RedditBaseURL = "https://www.reddit.com"
	}
	if c.RedditPosts == 0 {
		c.RedditPosts = 5
	}
	if c.MaxForumURLs == 0 {
		c.MaxForumURLs = 15
	}
	if c.TopComments == 0 {
		c.TopComments = 3
	}
	if c.MinTextLength == 0 {
		c.MinTextLength = 50
	}

	sh := &cfg.Shopping
	if sh.ReviewSelector == "" {
		sh.ReviewSelector = `div[data-attrid="user_review"]`
	}
	if sh.NameSelector == "" {
		sh.NameSelector = ".cbsD0d"
	}
	if sh.RatingSelector == "" {
		sh.RatingSelector = ".yi40Hd"
	}
	if sh.TextSelector == "" {
		sh.TextSelector = ".v168Le"
	}
	if sh.DateSelector == "" {
		sh.DateSelector = ".ff3bE, .pANpJb"
	}
	if sh.MoreButtonSelector == "" {
		sh.MoreButtonSelector = `div[role="button"][jsaction*="trigger.MS0zad"]`
	}
	if sh.ExpandSelector == "" {
		sh.ExpandSelector = `div[jsaction*="trigger.nNRzZb"]`
	}
	if sh.MaxRounds == 0 {
		sh.MaxRounds = 5
	}
	if sh.StableRounds == 0 {
		sh.StableRounds = 2
	}
	if sh.RoundDelay == 0 {
		sh.RoundDelay = 1500 * time.Millisecond
	}

	m := &cfg.Metrics
	if m.Namespace == "" {
		m.Namespace = "reviewscrapexter"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-haiku-latest"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}
