// pkg/api/api.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	maxPollFailures     = 3
)

var (
	// ErrJobNotFound is matched by errors.Is for 404 responses
	ErrJobNotFound = errors.New("job not found")
	// ErrProgressRegressed means a later poll returned less than an earlier one
	ErrProgressRegressed = errors.New("job progress went backwards")
)

// APIError is a non-2xx response from the service
type APIError struct {
	StatusCode int
	Message    string
	JobID      string
}

func (e *APIError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("api error %d for job %s: %s", e.StatusCode, e.JobID, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	return nil
}

// Temporary reports whether retrying the same call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// JobFailedError is returned by Wait when the job ends in FAILURE
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Client talks to the review acquisition service
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the service rooted at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{baseURL: u, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitStore starts a job over retailer product pages
func (c *Client) SubmitStore(ctx context.Context, req StoreRequest) (SubmitResponse, error) {
	return c.submit(ctx, "store", req)
}

// SubmitCommunity starts a forum and Reddit job
func (c *Client) SubmitCommunity(ctx context.Context, req CommunityRequest) (SubmitResponse, error) {
	return c.submit(ctx, "community", req)
}

// SubmitShopping starts a shopping-comments job
func (c *Client) SubmitShopping(ctx context.Context, req ShoppingRequest) (SubmitResponse, error) {
	return c.submit(ctx, "shopping", req)
}

func (c *Client) submit(ctx context.Context, kind string, body any) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/reviews/"+kind, body, &out)
	return out, err
}

// Status polls the job once
func (c *Client) Status(ctx context.Context, id string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Revoke asks the service to cancel the job
func (c *Client) Revoke(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, nil)
}

// Wait polls every interval until the job is terminal. onProgress, when set,
// sees each status whose review list grew. A FAILURE is returned as a
// *JobFailedError together with the final status.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onProgress func(JobStatus)) (JobStatus, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last JobStatus
	seen := -1
	failures := 0
	for {
		doc, err := c.Status(ctx, id)
		switch {
		case err == nil:
			failures = 0
			if err := checkProgress(last, doc); err != nil {
				return doc, err
			}
			if doc.Status == StateProgress && len(doc.Reviews) > seen && onProgress != nil {
				onProgress(doc)
			}
			if doc.Status == StateProgress {
				seen = len(doc.Reviews)
			}
			last = doc
			switch doc.Status {
			case StateSuccess:
				return doc, nil
			case StateFailure:
				return doc, &JobFailedError{JobID: id, Message: doc.Error}
			}
		case retryable(err) && failures+1 < maxPollFailures:
			failures++
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkProgress rejects a poll that lost state or reviews seen earlier
func checkProgress(prev, next JobStatus) error {
	if prev.Status == "" {
		return nil
	}
	if rank(next.Status) < rank(prev.Status) {
		return fmt.Errorf("%w: %s after %s", ErrProgressRegressed, next.Status, prev.Status)
	}
	if prev.Status != StateProgress {
		return nil
	}

	var reviews []NormalizedReview
	switch next.Status {
	case StateProgress:
		reviews = next.Reviews
	case StateSuccess:
		if next.Result != nil {
			reviews = next.Result.Reviews
		}
	default:
		return nil
	}
	if len(reviews) < len(prev.Reviews) {
		return fmt.Errorf("%w: %d reviews after %d", ErrProgressRegressed, len(reviews), len(prev.Reviews))
	}
	for i := range prev.Reviews {
		if reviews[i].Text != prev.Reviews[i].Text {
			return fmt.Errorf("%w: review %d changed", ErrProgressRegressed, i)
		}
	}
	return nil
}

func rank(s JobState) int {
	switch s {
	case StatePending:
		return 0
	case StateStarted:
		return 1
	case StateProgress:
		return 2
	default:
		return 3
	}
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
			if e.Error == "" {
				e.Error = http.StatusText(resp.StatusCode)
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, JobID: e.JobID}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
