// internal/scraper/fetcher.go
package scraper

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/browser"
	"github.com/valpere/ReviewScrapexter/internal/config"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/proxy"
)

// Page is the fetched content of one URL
type Page struct {
	URL        string
	FinalURL   string
	HTML       string
	StatusCode int
	Rendered   bool
	Detection  Detection
}

// Fetcher retrieves pages with retry and escalates to a browser render when
// the raw HTML looks script-dependent
type Fetcher struct {
	client   *HTTPClient
	retry    *apperrors.Service
	renderer browser.Renderer
	logger   *slog.Logger
	metrics  *monitoring.MetricsManager
}

// NewFetcher wires a fetcher. renderer may be nil to disable escalation.
func NewFetcher(client *HTTPClient, retry *apperrors.Service, renderer browser.Renderer, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if retry == nil {
		retry = apperrors.NewService(apperrors.DefaultRetryConfig(), apperrors.CircuitBreakerConfig{})
	}
	return &Fetcher{
		client:   client,
		retry:    retry,
		renderer: renderer,
		logger:   logger,
	}
}

// NewFetcherFromConfig builds the HTTP client and retry service from configuration
func NewFetcherFromConfig(c config.FetcherConfig, renderer browser.Renderer, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	retry := apperrors.NewService(apperrors.RetryConfig{
		MaxRetries:    c.RetryAttempts,
		BaseDelay:     c.RetryDelay,
		BackoffFactor: 2.0,
		MaxDelay:      c.MaxRetryDelay,
		Jitter:        true,
	}, apperrors.CircuitBreakerConfig{
		MaxFailures:  c.BreakerFailures,
		ResetTimeout: c.BreakerReset,
	}).WithLogger(logger)
	return NewFetcher(NewHTTPClient(ClientConfigFrom(c)), retry, renderer, logger)
}

// WithProxies rotates plain HTTP fetches across m. Browser renders are not proxied.
func (f *Fetcher) WithProxies(m *proxy.Manager) *Fetcher {
	f.client.UseProxies(m)
	return f
}

// WithMetrics attaches fetch and render metrics
func (f *Fetcher) WithMetrics(m *monitoring.MetricsManager) *Fetcher {
	f.metrics = m
	return f
}

// CanRender reports whether escalation is possible at all
func (f *Fetcher) CanRender() bool {
	if f.renderer == nil {
		return false
	}
	if e, ok := f.renderer.(interface{ IsEnabled() bool }); ok {
		return e.IsEnabled()
	}
	return true
}

// Fetch retrieves targetURL, escalating to a render when the detector fires and
// the job's budget allows it. A failed render falls back to the raw HTML.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, budget *RenderBudget) (*Page, error) {
	resp, err := f.get(ctx, targetURL, acceptHTML)
	if err != nil {
		return nil, err
	}

	page := &Page{
		URL:        targetURL,
		FinalURL:   resp.URL,
		HTML:       string(resp.Body),
		StatusCode: resp.StatusCode,
		Detection:  DetectJSRequirement(string(resp.Body)),
	}
	if !page.Detection.Required || !f.CanRender() {
		return page, nil
	}

	if budget != nil && !budget.TryAcquire() {
		f.metrics.RecordRender("limit")
		f.logger.Info("fetch.render_skipped",
			"url", targetURL,
			"reasons", page.Detection.Reasons,
			"limit", budget.Limit(),
		)
		return nil, &apperrors.RenderEscalationLimitError{URL: targetURL, Limit: budget.Limit()}
	}

	start := time.Now()
	html, err := f.renderer.Render(ctx, targetURL)
	if err != nil {
		f.metrics.RecordRender("failed")
		f.logger.Warn("fetch.render_failed", "url", targetURL, "error", err)
		return page, nil
	}
	f.metrics.RecordRender("rendered")
	f.logger.Info("fetch.render",
		"url", targetURL,
		"reasons", page.Detection.Reasons,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	page.HTML = html
	page.Rendered = true
	return page, nil
}

// FetchJSON retrieves targetURL and decodes the JSON body into v
func (f *Fetcher) FetchJSON(ctx context.Context, targetURL string, v any) error {
	resp, err := f.get(ctx, targetURL, acceptJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", targetURL, err)
	}
	return nil
}

// get runs one GET under the retry service, keyed by host so each site gets its own breaker
func (f *Fetcher) get(ctx context.Context, targetURL, accept string) (*Response, error) {
	host := hostOf(targetURL)
	start := time.Now()
	attempt := 0

	var resp *Response
	err := f.retry.ExecuteWithRetry(ctx, host, func(ctx context.Context) error {
		attempt++
		r, err := f.client.Get(ctx, targetURL, accept)
		if err != nil {
			var fetchErr *apperrors.FetchError
			if stderrors.As(err, &fetchErr) {
				fetchErr.Attempt = attempt
			}
			f.logger.Debug("fetch.attempt_failed", "url", targetURL, "host", host, "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	f.metrics.RecordFetch(host, outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
