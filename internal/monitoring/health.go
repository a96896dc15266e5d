// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name      string                                      `json:"name"`
	Critical  bool                                        `json:"critical"`
	Timeout   time.Duration                               `json:"-"`
	CheckFunc func(ctx context.Context) HealthCheckResult `json:"-"`
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Critical  bool           `json:"critical"`
	LastCheck time.Time      `json:"last_check"`
	Duration  time.Duration  `json:"duration"`
}

// HealthConfig configuration for health monitoring
type HealthConfig struct {
	CheckInterval    time.Duration `json:"check_interval"`
	DefaultTimeout   time.Duration `json:"default_timeout"`
	DetailedResponse bool          `json:"detailed_response"`
	Version          string        `json:"version"`
}

// SystemHealth represents overall system health information
type SystemHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version,omitempty"`
	Uptime    string                       `json:"uptime"`
	Checks    map[string]HealthCheckResult `json:"checks,omitempty"`
	Summary   HealthSummary                `json:"summary"`
	System    SystemMetrics                `json:"system"`
}

// HealthSummary provides a summary of health checks
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Unknown   int `json:"unknown"`
	Critical  int `json:"critical"`
}

// SystemMetrics provides system-level metrics
type SystemMetrics struct {
	AllocatedBytes uint64 `json:"allocated_bytes"`
	SystemBytes    uint64 `json:"system_bytes"`
	NumGC          uint32 `json:"num_gc"`
	GoroutineCount int    `json:"goroutine_count"`
}

// HealthManager runs registered checks periodically and serves the results
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]*HealthCheck
	results map[string]HealthCheckResult
	config  HealthConfig
	stopCh  chan struct{}
	once    sync.Once
}

var startTime = time.Now()

// NewHealthManager creates a new health manager
func NewHealthManager(config HealthConfig) *HealthManager {
	if config.CheckInterval == 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 5 * time.Second
	}
	return &HealthManager{
		checks:  make(map[string]*HealthCheck),
		results: make(map[string]HealthCheckResult),
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// RegisterCheck registers a new health check
func (hm *HealthManager) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = hm.config.DefaultTimeout
	}
	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

// Start runs all checks immediately and then every CheckInterval
func (hm *HealthManager) Start(ctx context.Context) {
	go func() {
		hm.RunChecks(ctx)
		ticker := time.NewTicker(hm.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hm.RunChecks(ctx)
			case <-hm.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the health monitoring
func (hm *HealthManager) Stop() {
	hm.once.Do(func() { close(hm.stopCh) })
}

// RunChecks runs every registered check concurrently and stores the results
func (hm *HealthManager) RunChecks(ctx context.Context) {
	hm.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(c *HealthCheck) {
			defer wg.Done()
			result := runCheck(ctx, c)
			hm.mu.Lock()
			hm.results[c.Name] = result
			hm.mu.Unlock()
		}(check)
	}
	wg.Wait()
}

func runCheck(ctx context.Context, check *HealthCheck) HealthCheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	result := HealthCheckResult{Status: HealthStatusUnknown, Message: "No check function defined"}
	if check.CheckFunc != nil {
		result = check.CheckFunc(checkCtx)
	}
	result.Critical = check.Critical
	result.LastCheck = start
	result.Duration = time.Since(start)
	return result
}

// GetHealth returns the overall health status
func (hm *HealthManager) GetHealth() SystemHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	health := SystemHealth{
		Timestamp: time.Now(),
		Version:   hm.config.Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		System:    getSystemMetrics(),
	}
	if hm.config.DetailedResponse {
		health.Checks = make(map[string]HealthCheckResult, len(hm.results))
	}

	summary := HealthSummary{}
	overall := HealthStatusHealthy
	for name, check := range hm.checks {
		result, ok := hm.results[name]
		if !ok {
			result = HealthCheckResult{Status: HealthStatusUnknown, Critical: check.Critical, Message: "not yet checked"}
		}
		if health.Checks != nil {
			health.Checks[name] = result
		}

		summary.Total++
		if check.Critical {
			summary.Critical++
		}
		switch result.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
			if check.Critical {
				overall = HealthStatusUnhealthy
			} else if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		case HealthStatusDegraded:
			summary.Degraded++
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		default:
			summary.Unknown++
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	health.Status = overall
	health.Summary = summary
	return health
}

// GetReadiness treats degraded as ready and unhealthy as not ready
func (hm *HealthManager) GetReadiness() SystemHealth {
	health := hm.GetHealth()
	if health.Status != HealthStatusUnhealthy {
		health.Status = HealthStatusHealthy
	}
	return health
}

// GetLiveness reports the process as alive; only the process itself is judged
func (hm *HealthManager) GetLiveness() SystemHealth {
	return SystemHealth{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Version:   hm.config.Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		System:    getSystemMetrics(),
	}
}

func getSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemMetrics{
		AllocatedBytes: m.Alloc,
		SystemBytes:    m.Sys,
		NumGC:          m.NumGC,
		GoroutineCount: runtime.NumGoroutine(),
	}
}

// HealthHandler serves /health
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, hm.GetHealth())
	}
}

// ReadinessHandler serves /ready
func (hm *HealthManager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, hm.GetReadiness())
	}
}

// LivenessHandler serves /live
func (hm *HealthManager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, hm.GetLiveness())
	}
}

func writeHealth(w http.ResponseWriter, health SystemHealth) {
	w.Header().Set("Content-Type", "application/json")
	if health.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// PingHealthCheck wraps a connectivity check such as the job store's Ping
func PingHealthCheck(name string, critical bool, ping func(ctx context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:     name,
		Critical: critical,
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			if err := ping(ctx); err != nil {
				status := HealthStatusDegraded
				if critical {
					status = HealthStatusUnhealthy
				}
				return HealthCheckResult{Status: status, Message: name + " unreachable", Error: err.Error()}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Message: name + " reachable"}
		},
	}
}

// QueueHealthCheck reports degraded once the job queue is at least 90% full
func QueueHealthCheck(depth func() (queued, capacity int)) *HealthCheck {
	return &HealthCheck{
		Name: "job_queue",
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			queued, capacity := depth()
			metadata := map[string]any{"queued": queued, "capacity": capacity}
			if capacity > 0 && queued*10 >= capacity*9 {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("job queue nearly full: %d/%d", queued, capacity),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{
				Status:   HealthStatusHealthy,
				Message:  fmt.Sprintf("job queue: %d/%d", queued, capacity),
				Metadata: metadata,
			}
		},
	}
}

// GoroutineHealthCheck creates a goroutine count health check
func GoroutineHealthCheck(maxGoroutines int) *HealthCheck {
	return &HealthCheck{
		Name: "goroutines",
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			count := runtime.NumGoroutine()
			metadata := map[string]any{
				"goroutine_count": count,
				"max_allowed":     maxGoroutines,
			}
			if count > maxGoroutines {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("High goroutine count: %d", count),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{
				Status:   HealthStatusHealthy,
				Message:  fmt.Sprintf("Goroutine count normal: %d", count),
				Metadata: metadata,
			}
		},
	}
}
