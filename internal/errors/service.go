// internal/errors/service.go - retry and circuit-breaker service
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	Jitter        bool          `yaml:"jitter" json:"jitter"`
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// DefaultRetryConfig mirrors the fetch retry policy: 3 retries, doubling from one second
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
	}
}

// RetryHook observes every retry decision; used for metrics
type RetryHook func(operation string, attempt int, err error)

// Service executes operations with retry and per-operation circuit breakers
type Service struct {
	retryConfig     RetryConfig
	breakerConfig   CircuitBreakerConfig
	circuitBreakers map[string]*CircuitBreaker
	mu              sync.Mutex
	logger          *slog.Logger
	onRetry         RetryHook
}

// NewService creates a retry service
func NewService(retry RetryConfig, breaker CircuitBreakerConfig) *Service {
	if retry.BackoffFactor <= 0 {
		retry.BackoffFactor = 2.0
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if breaker.MaxFailures <= 0 {
		breaker.MaxFailures = 5
	}
	if breaker.ResetTimeout <= 0 {
		breaker.ResetTimeout = time.Minute
	}
	return &Service{
		retryConfig:     retry,
		breakerConfig:   breaker,
		circuitBreakers: make(map[string]*CircuitBreaker),
		logger:          slog.Default(),
	}
}

// WithLogger sets the logger used for retry events
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// OnRetry registers a hook called before each retry sleep
func (s *Service) OnRetry(hook RetryHook) *Service {
	s.onRetry = hook
	return s
}

// ExecuteWithRetry runs operation until it succeeds, fails permanently, or the context ends.
// operationName also keys the circuit breaker, so callers pass something like the target host.
func (s *Service) ExecuteWithRetry(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	cb := s.getOrCreateCircuitBreaker(operationName)
	if !cb.CanExecute() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, operationName)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		lastErr = err

		retryable := s.isRetryable(err)
		if retryable {
			cb.RecordFailure()
		}
		if !retryable || attempt >= s.retryConfig.MaxRetries {
			break
		}
		if !cb.CanExecute() {
			return fmt.Errorf("%w: %s: %w", ErrCircuitOpen, operationName, lastErr)
		}

		delay := s.calculateDelay(attempt)
		s.logger.Debug("retry.scheduled",
			"operation", operationName,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if s.onRetry != nil {
			s.onRetry(operationName, attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// isRetryable prefers typed classification and falls back to message matching
func (s *Service) isRetryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var classified interface{ Retryable() bool }
	if stderrors.As(err, &classified) {
		return classified.Retryable()
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout", "connection refused", "connection reset", "no such host",
		"temporary", "service unavailable", "too many requests",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

// calculateDelay computes exponential backoff, optionally with up to 50% jitter
func (s *Service) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(float64(s.retryConfig.BaseDelay) * math.Pow(s.retryConfig.BackoffFactor, float64(attempt)))
	if delay > s.retryConfig.MaxDelay {
		delay = s.retryConfig.MaxDelay
	}
	if s.retryConfig.Jitter && delay > 1 {
		delay += time.Duration(rand.Int63n(int64(delay / 2)))
	}
	return delay
}

func (s *Service) getOrCreateCircuitBreaker(operationName string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, exists := s.circuitBreakers[operationName]; exists {
		return cb
	}
	cb := &CircuitBreaker{
		name:         operationName,
		maxFailures:  s.breakerConfig.MaxFailures,
		resetTimeout: s.breakerConfig.ResetTimeout,
		state:        CircuitClosed,
	}
	s.circuitBreakers[operationName] = cb
	return cb
}

// BreakerState returns the state of the breaker for an operation
func (s *Service) BreakerState(operationName string) CircuitBreakerState {
	return s.getOrCreateCircuitBreaker(operationName).GetState()
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing target until the reset timeout passes
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	nextAttemptTime time.Time
	mu              sync.Mutex
}

// CanExecute reports whether a call may proceed
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Now().After(cb.nextAttemptTime) {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure opens the breaker once consecutive failures reach the limit
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.maxFailures || cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.nextAttemptTime = time.Now().Add(cb.resetTimeout)
	}
}

// GetState returns the current breaker state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
