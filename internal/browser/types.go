// internal/browser/types.go
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

// ErrBrowserDisabled is returned when rendering is requested but the browser is turned off
var ErrBrowserDisabled = errors.New("browser automation is not enabled")

// BrowserConfig defines browser automation configuration
type BrowserConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Headless       bool          `yaml:"headless" json:"headless"`
	ExecPath       string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`
	PoolSize       int           `yaml:"pool_size" json:"pool_size"`
}

// DefaultBrowserConfig returns default browser configuration
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Enabled:        false,
		Headless:       true,
		Timeout:        45 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		WaitDelay:      2 * time.Second,
		DisableImages:  true,
		PoolSize:       2,
	}
}

// FromConfig converts the service configuration section
func FromConfig(c config.BrowserConfig) *BrowserConfig {
	return &BrowserConfig{
		Enabled:        c.Enabled,
		Headless:       !c.Headful,
		ExecPath:       c.ExecPath,
		Timeout:        c.Timeout,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
		WaitDelay:      c.WaitDelay,
		UserAgent:      c.UserAgent,
		DisableImages:  c.DisableImages,
		PoolSize:       c.PoolSize,
	}
}

// Renderer returns the post-script DOM of a page
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Interactor renders a page after driving its "load more" controls
type Interactor interface {
	RenderInteractive(ctx context.Context, url string, plan InteractionPlan) (*InteractionResult, error)
}

// InteractionPlan describes how to expand a lazily loaded list before capture
type InteractionPlan struct {
	// ItemSelector counts loaded items between rounds.
	ItemSelector   string
	MoreSelector   string
	ExpandSelector string
	MaxRounds      int
	// StableRounds stops clicking once the item count has not grown for this many rounds.
	StableRounds int
	RoundDelay   time.Duration
}

// InteractionResult is the captured DOM plus what the session did
type InteractionResult struct {
	HTML     string `json:"-"`
	Rounds   int    `json:"rounds"`
	Items    int    `json:"items"`
	Expanded int    `json:"expanded"`
}

// BrowserStats contains browser automation statistics
type BrowserStats struct {
	PagesLoaded     int           `json:"pages_loaded"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	Errors          int           `json:"errors"`
}
