// internal/scraper/client.go
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ReviewScrapexter/internal/config"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/proxy"
)

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON = "application/json"

	defaultMaxBodyBytes = 5 << 20
)

// HTTPClient performs single rate-limited GET attempts with browser-like headers.
// Retries belong to the caller.
type HTTPClient struct {
	httpClient   *http.Client
	userAgents   []string
	currentUA    int
	uaMutex      sync.Mutex
	rateLimiter  *rate.Limiter
	headers      map[string]string
	maxBodyBytes int64
	proxies      *proxy.Manager
}

// ClientConfig defines configuration options for the HTTP client
type ClientConfig struct {
	Timeout      time.Duration
	UserAgents   []string
	Headers      map[string]string
	RateLimit    float64 // requests per second
	RateBurst    int
	MaxBodyBytes int64
}

// ClientConfigFrom maps the fetcher configuration section
func ClientConfigFrom(c config.FetcherConfig) ClientConfig {
	return ClientConfig{
		Timeout:      c.Timeout,
		UserAgents:   c.UserAgents,
		Headers:      c.Headers,
		RateLimit:    c.RateLimit,
		RateBurst:    c.RateBurst,
		MaxBodyBytes: c.MaxBodyBytes,
	}
}

// Response is a fully read HTTP response
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
}

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(config ClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2.0
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = getDefaultUserAgents()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               proxyFor,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		httpClient:   httpClient,
		userAgents:   config.UserAgents,
		rateLimiter:  rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		headers:      config.Headers,
		maxBodyBytes: config.MaxBodyBytes,
	}
}

// proxyFor routes through the proxy chosen in Get, falling back to the environment
func proxyFor(req *http.Request) (*url.URL, error) {
	if inst := proxy.FromContext(req.Context()); inst != nil {
		return inst.URL, nil
	}
	return http.ProxyFromEnvironment(req)
}

// UseProxies routes subsequent requests through m; nil disables rotation
func (c *HTTPClient) UseProxies(m *proxy.Manager) {
	c.proxies = m
}

// Get performs one GET. Transport failures and statuses >= 400 come back as *errors.FetchError;
// a malformed URL is a plain error and is never retried.
func (c *HTTPClient) Get(ctx context.Context, targetURL, accept string) (*Response, error) {
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", targetURL)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &apperrors.FetchError{URL: targetURL, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	via, err := c.proxies.Next()
	if err != nil {
		return nil, &apperrors.FetchError{URL: targetURL, Err: err}
	}

	req, err := http.NewRequestWithContext(proxy.WithInstance(ctx, via), http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, &apperrors.FetchError{URL: targetURL, Err: err}
	}
	c.setRequestHeaders(req, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.proxies.ReportFailure(via, err)
		}
		return nil, &apperrors.FetchError{URL: targetURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusProxyAuthRequired {
		c.proxies.ReportFailure(via, fmt.Errorf("proxy authentication required"))
	} else {
		c.proxies.ReportSuccess(via)
	}

	if resp.StatusCode >= 400 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &apperrors.FetchError{URL: targetURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &apperrors.FetchError{URL: targetURL, Err: fmt.Errorf("read body: %w", err)}
	}
	truncated := int64(len(body)) > c.maxBodyBytes
	if truncated {
		body = body[:c.maxBodyBytes]
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Truncated:   truncated,
	}, nil
}

// setRequestHeaders configures request headers including user agent rotation
func (c *HTTPClient) setRequestHeaders(req *http.Request, accept string) {
	req.Header.Set("User-Agent", c.getNextUserAgent())
	if accept == "" {
		accept = acceptHTML
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

// getNextUserAgent returns the next user agent in rotation
func (c *HTTPClient) getNextUserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()

	if len(c.userAgents) == 0 {
		return "ReviewScrapexter/1.0"
	}
	userAgent := c.userAgents[c.currentUA]
	c.currentUA = (c.currentUA + 1) % len(c.userAgents)
	return userAgent
}

// getDefaultUserAgents returns a set of realistic user agent strings
func getDefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	}
}
