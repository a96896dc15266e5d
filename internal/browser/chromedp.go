// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeClient owns one headless Chrome process and opens a tab per render
type ChromeClient struct {
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	config      *BrowserConfig

	statsMu sync.Mutex
	stats   BrowserStats
}

// NewChromeClient launches Chrome with the configured options
func NewChromeClient(config *BrowserConfig) (*ChromeClient, error) {
	if config == nil {
		config = DefaultBrowserConfig()
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
	}
	if config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser so launch failures surface here
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeClient{
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
		config:      config,
	}, nil
}

// newTab opens a tab bounded by the render timeout and by the caller's context
func (c *ChromeClient) newTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, timeoutCancel)

	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}
}

// Render navigates to url, waits for the body plus the settle delay, and returns the DOM
func (c *ChromeClient) Render(ctx context.Context, url string) (string, error) {
	tabCtx, cancel := c.newTab(ctx)
	defer cancel()

	start := time.Now()
	var html string
	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if c.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(c.config.WaitDelay))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(tabCtx, tasks...); err != nil {
		c.recordError()
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	c.recordLoad(time.Since(start))
	return html, nil
}

// RenderInteractive clicks the plan's "more" control until the item count settles,
// expands truncated items, and captures the DOM
func (c *ChromeClient) RenderInteractive(ctx context.Context, url string, plan InteractionPlan) (*InteractionResult, error) {
	tabCtx, cancel := c.newTab(ctx)
	defer cancel()

	start := time.Now()
	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if c.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(c.config.WaitDelay))
	}
	if err := chromedp.Run(tabCtx, tasks...); err != nil {
		c.recordError()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	result := &InteractionResult{}
	if plan.MoreSelector != "" && plan.ItemSelector != "" {
		if err := c.loadMore(tabCtx, plan, result); err != nil {
			c.recordError()
			return nil, err
		}
	}

	if plan.ExpandSelector != "" {
		var expanded int
		script := fmt.Sprintf(`(() => { const els = document.querySelectorAll(%q); els.forEach(e => e.click()); return els.length; })()`, plan.ExpandSelector)
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &expanded), chromedp.Sleep(500*time.Millisecond)); err != nil {
			c.recordError()
			return nil, fmt.Errorf("expand items: %w", err)
		}
		result.Expanded = expanded
	}

	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &result.HTML)); err != nil {
		c.recordError()
		return nil, fmt.Errorf("capture %s: %w", url, err)
	}
	c.recordLoad(time.Since(start))
	return result, nil
}

func (c *ChromeClient) loadMore(ctx context.Context, plan InteractionPlan, result *InteractionResult) error {
	countScript := fmt.Sprintf(`document.querySelectorAll(%q).length`, plan.ItemSelector)
	clickScript := fmt.Sprintf(`(() => { const b = document.querySelector(%q); if (!b) return false; b.click(); return true; })()`, plan.MoreSelector)

	stableRounds := plan.StableRounds
	if stableRounds <= 0 {
		stableRounds = 2
	}

	var count int
	if err := chromedp.Run(ctx, chromedp.Evaluate(countScript, &count)); err != nil {
		return fmt.Errorf("count items: %w", err)
	}

	stable := 0
	for round := 0; round < plan.MaxRounds; round++ {
		var clicked bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(clickScript, &clicked)); err != nil {
			return fmt.Errorf("click more: %w", err)
		}
		if !clicked {
			break
		}
		result.Rounds++

		if plan.RoundDelay > 0 {
			if err := chromedp.Run(ctx, chromedp.Sleep(plan.RoundDelay)); err != nil {
				return err
			}
		}

		var next int
		if err := chromedp.Run(ctx, chromedp.Evaluate(countScript, &next)); err != nil {
			return fmt.Errorf("count items: %w", err)
		}
		if next <= count {
			stable++
			if stable >= stableRounds {
				break
			}
		} else {
			stable = 0
		}
		count = next
	}
	result.Items = count
	return nil
}

func (c *ChromeClient) recordLoad(d time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.PagesLoaded++
	if c.stats.PagesLoaded == 1 {
		c.stats.AverageLoadTime = d
	} else {
		c.stats.AverageLoadTime = (c.stats.AverageLoadTime + d) / 2
	}
}

func (c *ChromeClient) recordError() {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
}

// GetStats returns browser statistics
func (c *ChromeClient) GetStats() BrowserStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close shuts down the browser process
func (c *ChromeClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}
