// internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/security"
	"github.com/valpere/ReviewScrapexter/internal/utils"
	"github.com/valpere/ReviewScrapexter/pkg/api"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// fakeJobs stands in for the orchestrator
type fakeJobs struct {
	mu        sync.Mutex
	snaps     map[string]*jobs.Snapshot
	submitErr error
	submitted []types.JobRequest
	revoked   []string
	broker    *jobs.Broker
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{snaps: map[string]*jobs.Snapshot{}, broker: jobs.NewBroker()}
}

func (f *fakeJobs) Submit(ctx context.Context, req types.JobRequest) (*jobs.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrInvalidRequest, err)
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	snap := &jobs.Snapshot{ID: fmt.Sprintf("job-%d", len(f.submitted)), Request: req, State: types.StatePending}
	f.snaps[snap.ID] = snap
	return snap.Clone(), nil
}

func (f *fakeJobs) Status(ctx context.Context, id string) (*jobs.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return snap.Clone(), nil
}

func (f *fakeJobs) Subscribe(ctx context.Context, id string) (*jobs.Snapshot, <-chan *jobs.Snapshot, func(), error) {
	events, cancel := f.broker.Subscribe(id)
	current, err := f.Status(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	if current.State.IsTerminal() {
		cancel()
	}
	return current, events, cancel, nil
}

func (f *fakeJobs) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[id]
	if !ok {
		return jobs.ErrNotFound
	}
	if snap.State.IsTerminal() {
		return jobs.ErrTerminal
	}
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeJobs) put(snap *jobs.Snapshot) {
	f.mu.Lock()
	f.snaps[snap.ID] = snap
	f.mu.Unlock()
}

// publish stores snap and fans it out like the orchestrator does
func (f *fakeJobs) publish(snap *jobs.Snapshot) {
	f.put(snap)
	f.broker.Publish(snap.Clone())
}

func newTestServer(t *testing.T, f *fakeJobs, opts Options) *httptest.Server {
	t.Helper()
	opts.Logger = utils.DiscardLogger()
	srv := httptest.NewServer(New(f, opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func review(i int) types.NormalizedReview {
	rating := 4.0
	return types.NormalizedReview{
		Text: fmt.Sprintf("Accepted review number %d, works as advertised.", i), Rating: &rating,
		Source: types.SourceStore, Confidence: 0.9,
	}
}

func TestSubmitEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		source types.Source
	}{
		{"store", "/api/v1/reviews/store", `{"product_name":"Acme Kettle","store_urls":["https://shop.example.com/kettle"]}`, http.StatusAccepted, types.SourceStore},
		{"store without urls", "/api/v1/reviews/store", `{"product_name":"Acme Kettle"}`, http.StatusBadRequest, ""},
		{"store bad url", "/api/v1/reviews/store", `{"product_name":"Acme Kettle","store_urls":["ftp://x"]}`, http.StatusBadRequest, ""},
		{"community search only", "/api/v1/reviews/community", `{"product_name":"Acme Kettle","brand":"Acme"}`, http.StatusAccepted, types.SourceCommunity},
		{"community forum urls", "/api/v1/reviews/community", `{"product_name":"Acme Kettle","forum_urls":["https://forum.example.com/t/1"]}`, http.StatusAccepted, types.SourceCommunity},
		{"shopping", "/api/v1/reviews/shopping", `{"product_name":"Acme Kettle","shopping_url":"https://www.google.com/search?q=kettle&ibp=oshop"}`, http.StatusAccepted, types.SourceShoppingComments},
		{"shopping not a shopping page", "/api/v1/reviews/shopping", `{"product_name":"Acme Kettle","shopping_url":"https://example.com/kettle"}`, http.StatusBadRequest, ""},
		{"missing product", "/api/v1/reviews/store", `{"store_urls":["https://shop.example.com/kettle"]}`, http.StatusBadRequest, ""},
		{"malformed json", "/api/v1/reviews/store", `{"product_name":`, http.StatusBadRequest, ""},
		{"empty body", "/api/v1/reviews/community", ``, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeJobs()
			srv := newTestServer(t, f, Options{})

			resp := postJSON(t, srv.URL+tt.path, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			if tt.status != http.StatusAccepted {
				body := decode[api.ErrorResponse](t, resp)
				assert.NotEmpty(t, body.Error)
				assert.Empty(t, f.submitted)
				return
			}
			body := decode[api.SubmitResponse](t, resp)
			assert.Equal(t, "job-1", body.JobID)
			assert.Equal(t, types.StatePending, body.Status)
			assert.Equal(t, "/api/v1/jobs/job-1", resp.Header.Get("Location"))
			require.Len(t, f.submitted, 1)
			assert.Equal(t, tt.source, f.submitted[0].Source)
		})
	}
}

func TestSubmit_Unavailable(t *testing.T) {
	for _, err := range []error{jobs.ErrQueueFull, jobs.ErrShuttingDown} {
		t.Run(err.Error(), func(t *testing.T) {
			f := newFakeJobs()
			f.submitErr = err
			srv := newTestServer(t, f, Options{})

			resp := postJSON(t, srv.URL+"/api/v1/reviews/store", `{"product_name":"Acme Kettle","store_urls":["https://shop.example.com/kettle"]}`)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		})
	}
}

func TestSubmit_URLPolicy(t *testing.T) {
	f := newFakeJobs()
	guard := security.NewGuard(config.URLPolicyConfig{BlockedDomains: []string{"blocked.example"}})
	srv := newTestServer(t, f, Options{Guard: guard})

	for _, u := range []string{"http://127.0.0.1:9000/admin", "https://shop.blocked.example/kettle"} {
		resp := postJSON(t, srv.URL+"/api/v1/reviews/store", `{"product_name":"Acme Kettle","store_urls":["`+u+`"]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, u)
		body := decode[api.ErrorResponse](t, resp)
		assert.Contains(t, body.Error, "rejected by policy")
	}
	assert.Empty(t, f.submitted)

	resp := postJSON(t, srv.URL+"/api/v1/reviews/store", `{"product_name":"Acme Kettle","store_urls":["https://shop.example.com/kettle"]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newFakeJobs()
	srv := newTestServer(t, f, Options{SubmitRateLimit: 0.001, SubmitRateBurst: 1})
	body := `{"product_name":"Acme Kettle","brand":"Acme"}`

	first := postJSON(t, srv.URL+"/api/v1/reviews/community", body)
	assert.Equal(t, http.StatusAccepted, first.StatusCode)
	second := postJSON(t, srv.URL+"/api/v1/reviews/community", body)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	// polling is not rate limited
	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusDocuments(t *testing.T) {
	f := newFakeJobs()
	f.put(&jobs.Snapshot{ID: "pending", State: types.StatePending})
	f.put(&jobs.Snapshot{ID: "progress", State: types.StateProgress, Current: 2, Total: 9, Reviews: []types.NormalizedReview{review(0), review(1)}})
	f.put(&jobs.Snapshot{ID: "failed", State: types.StateFailure, Error: "no content could be fetched"})
	f.put(&jobs.Snapshot{ID: "done", State: types.StateSuccess, Result: &types.JobResult{
		Reviews: []types.NormalizedReview{review(0)}, TotalFound: 1, RawCount: 4,
		Summary: types.SourceSummary{AverageRating: 4, OverallSentiment: types.SentimentPositive, CommonPraises: []string{}, CommonComplaints: []string{}},
	}})
	srv := newTestServer(t, f, Options{})

	get := func(id string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + id)
		require.NoError(t, err)
		defer resp.Body.Close()
		var doc map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		return resp.StatusCode, doc
	}

	status, doc := get("pending")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"job_id": "pending", "status": "PENDING"}, doc)

	_, doc = get("progress")
	assert.Equal(t, "PROGRESS", doc["status"])
	assert.EqualValues(t, 2, doc["current"])
	assert.EqualValues(t, 9, doc["total"])
	assert.Len(t, doc["reviews"], 2)
	assert.NotContains(t, doc, "result")

	_, doc = get("failed")
	assert.Equal(t, "FAILURE", doc["status"])
	assert.Equal(t, "no content could be fetched", doc["error"])
	assert.Equal(t, "failed", doc["job_id"])

	_, doc = get("done")
	assert.Equal(t, "SUCCESS", doc["status"])
	result := doc["result"].(map[string]any)
	assert.EqualValues(t, 1, result["total_found"])
	assert.EqualValues(t, 4, result["raw_count"])
	assert.Len(t, result["reviews"], 1)
	assert.NotContains(t, doc, "reviews")

	status, doc = get("expired")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "expired", doc["job_id"])
}

func TestRevoke(t *testing.T) {
	f := newFakeJobs()
	f.put(&jobs.Snapshot{ID: "running", State: types.StateProgress})
	f.put(&jobs.Snapshot{ID: "done", State: types.StateSuccess})
	srv := newTestServer(t, f, Options{})

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, del("running"))
	assert.Equal(t, http.StatusConflict, del("done"))
	assert.Equal(t, http.StatusNotFound, del("missing"))
	assert.Equal(t, []string{"running"}, f.revoked)
}

func TestExport(t *testing.T) {
	f := newFakeJobs()
	completed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	f.put(&jobs.Snapshot{
		ID: "done", State: types.StateSuccess, CompletedAt: &completed,
		Request: types.JobRequest{Source: types.SourceStore, ProductName: "Acme Kettle"},
		Result: &types.JobResult{
			Reviews: []types.NormalizedReview{review(0), review(1)}, TotalFound: 2, RawCount: 5,
			Summary: types.SourceSummary{AverageRating: 4, OverallSentiment: types.SentimentPositive},
		},
	})
	f.put(&jobs.Snapshot{ID: "running", State: types.StateStarted})
	srv := newTestServer(t, f, Options{})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/done/export.xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "reviews-done.xlsx")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Reviews")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	resp2, err := http.Get(srv.URL + "/api/v1/jobs/running/export.xlsx")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/api/v1/jobs/missing/export.xlsx")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func dialStream(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + id + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestStream(t *testing.T) {
	f := newFakeJobs()
	f.put(&jobs.Snapshot{ID: "job-1", State: types.StateStarted})
	srv := newTestServer(t, f, Options{})

	conn := dialStream(t, srv, "job-1")

	var doc types.JobStatus
	require.NoError(t, conn.ReadJSON(&doc))
	assert.Equal(t, types.StateStarted, doc.Status)

	f.publish(&jobs.Snapshot{ID: "job-1", State: types.StateProgress, Current: 1, Total: 3, Reviews: []types.NormalizedReview{review(0)}})
	// replayed older snapshots are skipped
	f.publish(&jobs.Snapshot{ID: "job-1", State: types.StateStarted})
	f.publish(&jobs.Snapshot{ID: "job-1", State: types.StateProgress, Current: 2, Total: 3, Reviews: []types.NormalizedReview{review(0), review(1)}})
	f.publish(&jobs.Snapshot{ID: "job-1", State: types.StateSuccess, Result: &types.JobResult{Reviews: []types.NormalizedReview{review(0), review(1)}}})

	var states []types.JobState
	var sizes []int
	for {
		var doc types.JobStatus
		if err := conn.ReadJSON(&doc); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		states = append(states, doc.Status)
		sizes = append(sizes, len(doc.Reviews))
	}
	assert.Equal(t, []types.JobState{types.StateProgress, types.StateProgress, types.StateSuccess}, states)
	assert.Equal(t, []int{1, 2, 0}, sizes)
}

func TestStream_TerminalJob(t *testing.T) {
	f := newFakeJobs()
	f.put(&jobs.Snapshot{ID: "job-1", State: types.StateFailure, Error: "job job-1 exceeded time limit of 30m0s"})
	srv := newTestServer(t, f, Options{})

	conn := dialStream(t, srv, "job-1")
	var doc types.JobStatus
	require.NoError(t, conn.ReadJSON(&doc))
	assert.Equal(t, types.StateFailure, doc.Status)
	assert.Contains(t, doc.Error, "time limit")

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestStream_UnknownJob(t *testing.T) {
	srv := newTestServer(t, newFakeJobs(), Options{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStale(t *testing.T) {
	progress := func(n int) *jobs.Snapshot { return &jobs.Snapshot{State: types.StateProgress, Current: n} }
	started := &jobs.Snapshot{State: types.StateStarted}
	success := &jobs.Snapshot{State: types.StateSuccess}

	assert.False(t, stale(started, progress(1)))
	assert.False(t, stale(progress(1), progress(2)))
	assert.True(t, stale(progress(2), progress(2)))
	assert.True(t, stale(progress(2), started))
	assert.False(t, stale(progress(2), success))
	assert.True(t, stale(success, success))
}

func TestOperationalEndpoints(t *testing.T) {
	health := monitoring.NewHealthManager(monitoring.HealthConfig{Version: "test"})
	health.RegisterCheck(monitoring.GoroutineHealthCheck(100000))
	health.RunChecks(context.Background())
	metrics := monitoring.NewMetricsManager(monitoring.MetricsConfig{})
	metrics.RecordJobStart()

	srv := newTestServer(t, newFakeJobs(), Options{Health: health, Metrics: metrics})

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "reviewscrapexter_jobs_active 1")

	notFound, err := http.Get(srv.URL + "/api/v1/nope")
	require.NoError(t, err)
	defer notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}
