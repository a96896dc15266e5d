// internal/server/server.go
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/security"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const maxRequestBody = 1 << 20

// Jobs is the orchestrator surface the HTTP interface drives
type Jobs interface {
	Submit(ctx context.Context, req types.JobRequest) (*jobs.Snapshot, error)
	Status(ctx context.Context, id string) (*jobs.Snapshot, error)
	Subscribe(ctx context.Context, id string) (*jobs.Snapshot, <-chan *jobs.Snapshot, func(), error)
	Revoke(ctx context.Context, id string) error
}

// Options configures optional collaborators. Nil health and metrics managers
// leave their routes unregistered.
type Options struct {
	SubmitRateLimit float64
	SubmitRateBurst int
	Health          *monitoring.HealthManager
	Metrics         *monitoring.MetricsManager
	Logger          *slog.Logger
	// Guard screens submitted URLs; nil accepts any well-formed request
	Guard *security.Guard
}

// Server exposes submit, poll, stream and export over HTTP
type Server struct {
	jobs     Jobs
	router   *mux.Router
	limiter  *rate.Limiter
	health   *monitoring.HealthManager
	metrics  *monitoring.MetricsManager
	logger   *slog.Logger
	guard    *security.Guard
	upgrader websocket.Upgrader
}

// New builds the router for j
func New(j Jobs, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:    j,
		router:  mux.NewRouter(),
		health:  opts.Health,
		metrics: opts.Metrics,
		guard:   opts.Guard,
		logger:  logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if opts.SubmitRateLimit > 0 {
		burst := max(opts.SubmitRateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRateLimit), burst)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	if s.health != nil {
		r.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
		r.HandleFunc("/ready", s.health.ReadinessHandler()).Methods(http.MethodGet)
		r.HandleFunc("/live", s.health.LivenessHandler()).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.MetricsHandler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	submit := api.PathPrefix("/reviews").Subrouter()
	submit.Use(s.rateLimit)
	submit.HandleFunc("/store", s.handleSubmitStore).Methods(http.MethodPost)
	submit.HandleFunc("/community", s.handleSubmitCommunity).Methods(http.MethodPost)
	submit.HandleFunc("/shopping", s.handleSubmitShopping).Methods(http.MethodPost)

	api.HandleFunc("/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleRevoke).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/stream", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/export.xlsx", s.handleExport).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"), "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"), "")
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listening", "address", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("server.shutting_down")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server.stopped")
	return nil
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
