// pkg/api/api_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviews(n int) []NormalizedReview {
	out := make([]NormalizedReview, n)
	for i := range out {
		out[i] = NormalizedReview{Text: fmt.Sprintf("review %d is long enough", i), Confidence: 0.8}
	}
	return out
}

func progress(n, total int) JobStatus {
	return JobStatus{Status: StateProgress, Current: &n, Total: &total, Reviews: reviews(n)}
}

// sequenceServer answers successive polls of job-1 with docs, repeating the last one
func sequenceServer(t *testing.T, docs ...JobStatus) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/job-1", r.URL.Path)
		i := min(int(polls.Add(1))-1, len(docs)-1)
		doc := docs[i]
		doc.JobID = "job-1"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
	c, err := NewClient("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL.String())
}

func TestSubmit(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitResponse{JobID: "job-1", Status: StatePending})
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)
	ctx := context.Background()

	resp, err := c.SubmitStore(ctx, StoreRequest{ProductName: "Acme Kettle", StoreURLs: []string{"https://shop.example.com/k"}})
	require.NoError(t, err)
	assert.Equal(t, SubmitResponse{JobID: "job-1", Status: StatePending}, resp)
	assert.Equal(t, "/api/v1/reviews/store", path)
	assert.Equal(t, []any{"https://shop.example.com/k"}, got["store_urls"])

	_, err = c.SubmitCommunity(ctx, CommunityRequest{ProductName: "Acme Kettle", Brand: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/reviews/community", path)
	assert.Equal(t, "Acme", got["brand"])
	assert.NotContains(t, got, "forum_urls")

	_, err = c.SubmitShopping(ctx, ShoppingRequest{ProductName: "Acme Kettle", ShoppingURL: "https://www.google.com/search?ibp=oshop"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/reviews/shopping", path)
	assert.Equal(t, "https://www.google.com/search?ibp=oshop", got["shopping_url"])
}

func TestErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs/missing":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "job not found", JobID: "missing"})
		case "/api/v1/reviews/store":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "job queue is full"})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "missing", apiErr.JobID)
	assert.False(t, apiErr.Temporary())

	_, err = c.SubmitStore(ctx, StoreRequest{ProductName: "x", StoreURLs: []string{"https://a.example"}})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "job queue is full", apiErr.Message)
	assert.True(t, apiErr.Temporary())

	err = c.Revoke(ctx, "other")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestWait(t *testing.T) {
	final := JobStatus{Status: StateSuccess, Result: &JobResult{Reviews: reviews(4), TotalFound: 4, RawCount: 9}}
	srv, polls := sequenceServer(t,
		JobStatus{Status: StatePending},
		JobStatus{Status: StateStarted},
		progress(2, 9),
		progress(2, 9),
		progress(4, 9),
		final,
	)
	c := newClient(t, srv.URL)

	var seen []int
	doc, err := c.Wait(context.Background(), "job-1", time.Millisecond, func(s JobStatus) {
		seen = append(seen, len(s.Reviews))
	})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, doc.Status)
	assert.Len(t, doc.Result.Reviews, 4)
	assert.Equal(t, []int{2, 4}, seen, "repeated snapshots are reported once")
	assert.EqualValues(t, 6, polls.Load())
}

func TestWait_Failure(t *testing.T) {
	srv, _ := sequenceServer(t,
		JobStatus{Status: StateStarted},
		JobStatus{Status: StateFailure, Error: "no content could be fetched"},
	)
	doc, err := newClient(t, srv.URL).Wait(context.Background(), "job-1", time.Millisecond, nil)
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "job-1", failed.JobID)
	assert.Equal(t, "no content could be fetched", failed.Message)
	assert.Equal(t, StateFailure, doc.Status)
}

func TestWait_DetectsRegression(t *testing.T) {
	tests := []struct {
		name string
		docs []JobStatus
	}{
		{"fewer reviews", []JobStatus{progress(4, 9), progress(2, 9)}},
		{"state went back", []JobStatus{progress(2, 9), {Status: StateStarted}}},
		{"result lost reviews", []JobStatus{progress(4, 9), {Status: StateSuccess, Result: &JobResult{Reviews: reviews(3)}}}},
		{"review replaced", []JobStatus{progress(2, 9), func() JobStatus {
			s := progress(3, 9)
			s.Reviews[0].Text = "a different review entirely"
			return s
		}()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := sequenceServer(t, tt.docs...)
			_, err := newClient(t, srv.URL).Wait(context.Background(), "job-1", time.Millisecond, nil)
			assert.ErrorIs(t, err, ErrProgressRegressed)
		})
	}
}

func TestWait_RetriesTransientErrors(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) <= 2 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(JobStatus{JobID: "job-1", Status: StateSuccess, Result: &JobResult{Reviews: []NormalizedReview{}}})
	}))
	defer srv.Close()

	doc, err := newClient(t, srv.URL).Wait(context.Background(), "job-1", time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, doc.Status)
}

func TestWait_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "job not found", JobID: "job-1"})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Wait(context.Background(), "job-1", time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestWait_ContextCancelled(t *testing.T) {
	srv, _ := sequenceServer(t, JobStatus{Status: StateStarted})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(t, srv.URL).Wait(ctx, "job-1", 5*time.Millisecond, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}
