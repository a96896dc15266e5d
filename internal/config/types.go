// internal/config/types.go
package config

import "time"

// Config is the root service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Fetcher    FetcherConfig    `yaml:"fetcher" json:"fetcher"`
	Browser    BrowserConfig    `yaml:"browser" json:"browser"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Dedupe     DedupeConfig     `yaml:"dedupe" json:"dedupe"`
	Validator  ValidatorConfig  `yaml:"validator" json:"validator"`
	Jobs       JobsConfig       `yaml:"jobs" json:"jobs"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Archive    ArchiveConfig    `yaml:"archive" json:"archive"`
	Community  CommunityConfig  `yaml:"community" json:"community"`
	Shopping   ShoppingConfig   `yaml:"shopping" json:"shopping"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP transport
type ServerConfig struct {
	Address         string          `yaml:"address" json:"address"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SubmitRateLimit float64         `yaml:"submit_rate_limit" json:"submit_rate_limit"`
	SubmitRateBurst int             `yaml:"submit_rate_burst" json:"submit_rate_burst"`
	URLPolicy       URLPolicyConfig `yaml:"url_policy" json:"url_policy"`
}

// URLPolicyConfig restricts which locator URLs the API accepts
type URLPolicyConfig struct {
	BlockedDomains []string `yaml:"blocked_domains,omitempty" json:"blocked_domains,omitempty"`
	AllowPrivate   bool     `yaml:"allow_private" json:"allow_private"`
	MaxURLLength   int      `yaml:"max_url_length" json:"max_url_length"`
}

// LoggingConfig configures slog output
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// FetcherConfig configures page retrieval
type FetcherConfig struct {
	Timeout         time.Duration     `yaml:"timeout" json:"timeout"`
	RetryAttempts   int               `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay      time.Duration     `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay   time.Duration     `yaml:"max_retry_delay" json:"max_retry_delay"`
	RateLimit       float64           `yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int               `yaml:"rate_burst" json:"rate_burst"`
	MaxBodyBytes    int64             `yaml:"max_body_bytes" json:"max_body_bytes"`
	UserAgents      []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	RenderLimit     int               `yaml:"render_limit" json:"render_limit"`
	Concurrency     int               `yaml:"concurrency" json:"concurrency"`
	BreakerFailures int               `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration     `yaml:"breaker_reset" json:"breaker_reset"`
	Proxy           ProxyConfig       `yaml:"proxy" json:"proxy"`
}

// ProxyConfig configures outbound proxy rotation for plain HTTP fetches
type ProxyConfig struct {
	Enabled          bool            `yaml:"enabled" json:"enabled"`
	Rotation         string          `yaml:"rotation" json:"rotation"` // round_robin, random, weighted
	FailureThreshold int             `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTime     time.Duration   `yaml:"recovery_time" json:"recovery_time"`
	Providers        []ProxyProvider `yaml:"providers,omitempty" json:"providers,omitempty"`
}

// ProxyProvider is one upstream proxy
type ProxyProvider struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"` // http, https, socks5
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	Weight   int    `yaml:"weight,omitempty" json:"weight,omitempty"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// BrowserConfig configures the headless renderer
type BrowserConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Headful        bool          `yaml:"headful" json:"headful"`
	ExecPath       string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	WaitDelay      time.Duration `yaml:"wait_delay" json:"wait_delay"`
	PoolSize       int           `yaml:"pool_size" json:"pool_size"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
}

// ExtractionConfig tunes the generic extraction filter
type ExtractionConfig struct {
	MinLength        int      `yaml:"min_length" json:"min_length"`
	MaxLength        int      `yaml:"max_length" json:"max_length"`
	MinWords         int      `yaml:"min_words" json:"min_words"`
	OpinionMinLength int      `yaml:"opinion_min_length" json:"opinion_min_length"`
	ExtraNoise       []string `yaml:"extra_noise,omitempty" json:"extra_noise,omitempty"`
}

// DedupeConfig holds per-source near-duplicate thresholds
type DedupeConfig struct {
	StoreThreshold     float64 `yaml:"store_threshold" json:"store_threshold"`
	CommunityThreshold float64 `yaml:"community_threshold" json:"community_threshold"`
	ShoppingThreshold  float64 `yaml:"shopping_threshold" json:"shopping_threshold"`
}

// ValidatorConfig configures the language-model validator
type ValidatorConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	Provider            string        `yaml:"provider" json:"provider"`
	Model               string        `yaml:"model" json:"model"`
	APIKey              string        `yaml:"api_key,omitempty" json:"-"`
	BaseURL             string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	BatchSize           int           `yaml:"batch_size" json:"batch_size"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	AcceptanceThreshold float64       `yaml:"acceptance_threshold" json:"acceptance_threshold"`
	FallbackConfidence  float64       `yaml:"fallback_confidence" json:"fallback_confidence"`
}

// JobsConfig configures orchestration
type JobsConfig struct {
	Workers        int           `yaml:"workers" json:"workers"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	TimeLimit      time.Duration `yaml:"time_limit" json:"time_limit"`
	SoftTimeLimit  time.Duration `yaml:"soft_time_limit" json:"soft_time_limit"`
	Retention      time.Duration `yaml:"retention" json:"retention"`
	SnapshotBatch  int           `yaml:"snapshot_batch" json:"snapshot_batch"`
	StoreCap       int           `yaml:"store_cap" json:"store_cap"`
	CommunityCap   int           `yaml:"community_cap" json:"community_cap"`
	ShoppingCap    int           `yaml:"shopping_cap" json:"shopping_cap"`
	ShoppingRawCap int           `yaml:"shopping_raw_cap" json:"shopping_raw_cap"`
}

// StoreConfig selects the job record backend
type StoreConfig struct {
	Type          string        `yaml:"type" json:"type"` // memory, redis, sqlite
	RedisURL      string        `yaml:"redis_url,omitempty" json:"-"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	SQLitePath    string        `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	PurgeInterval time.Duration `yaml:"purge_interval" json:"purge_interval"`
}

// ArchiveConfig selects where finished results are archived
type ArchiveConfig struct {
	Type       string        `yaml:"type" json:"type"` // none, postgres, mysql, mongodb
	DSN        string        `yaml:"dsn,omitempty" json:"-"`
	Database   string        `yaml:"database,omitempty" json:"database,omitempty"`
	Collection string        `yaml:"collection,omitempty" json:"collection,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// CommunityConfig configures forum and Reddit discovery
type CommunityConfig struct {
	RedditBaseURL string `yaml:"reddit_base_url" json:"reddit_base_url"`
	RedditPosts   int    `yaml:"reddit_posts" json:"reddit_posts"`
	SearxURL      string `yaml:"searx_url,omitempty" json:"searx_url,omitempty"`
	MaxForumURLs  int    `yaml:"max_forum_urls" json:"max_forum_urls"`
	TopComments   int    `yaml:"top_comments" json:"top_comments"`
	MinTextLength int    `yaml:"min_text_length" json:"min_text_length"`
}

// ShoppingConfig holds the comment-feed selectors and click policy
type ShoppingConfig struct {
	ReviewSelector     string        `yaml:"review_selector" json:"review_selector"`
	NameSelector       string        `yaml:"name_selector" json:"name_selector"`
	RatingSelector     string        `yaml:"rating_selector" json:"rating_selector"`
	TextSelector       string        `yaml:"text_selector" json:"text_selector"`
	DateSelector       string        `yaml:"date_selector" json:"date_selector"`
	MoreButtonSelector string        `yaml:"more_button_selector" json:"more_button_selector"`
	ExpandSelector     string        `yaml:"expand_selector" json:"expand_selector"`
	MaxRounds          int           `yaml:"max_rounds" json:"max_rounds"`
	StableRounds       int           `yaml:"stable_rounds" json:"stable_rounds"`
	RoundDelay         time.Duration `yaml:"round_delay" json:"round_delay"`
}

// MetricsConfig configures Prometheus exposition
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Path      string `yaml:"path" json:"path"`
}
