// internal/proxy/manager.go
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

// Manager rotates outbound requests across the configured proxies. A proxy
// that fails FailureThreshold times in a row rests for RecoveryTime.
// A nil *Manager is valid and selects no proxy.
type Manager struct {
	rotation  RotationStrategy
	threshold int
	recovery  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	proxies []*Instance
	next    int
	now     func() time.Time
}

// NewManager builds the pool from configuration. It returns nil when
// proxies are disabled.
func NewManager(cfg config.ProxyConfig, logger *slog.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		rotation:  RotationStrategy(cfg.Rotation),
		threshold: max(cfg.FailureThreshold, 1),
		recovery:  cfg.RecoveryTime,
		logger:    logger,
		now:       time.Now,
	}
	if m.rotation == "" {
		m.rotation = RotationRoundRobin
	}

	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		u, err := buildProxyURL(p)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.Name, err)
		}
		m.proxies = append(m.proxies, &Instance{Name: p.Name, URL: u, Weight: max(p.Weight, 1), available: true})
	}
	if len(m.proxies) == 0 {
		return nil, fmt.Errorf("proxies enabled but no provider is enabled")
	}
	logger.Info("proxy.pool_ready", "proxies", len(m.proxies), "rotation", m.rotation)
	return m, nil
}

func buildProxyURL(p config.ProxyProvider) (*url.URL, error) {
	switch p.Type {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
	if p.Host == "" || p.Port <= 0 {
		return nil, fmt.Errorf("host and port are required")
	}
	u := &url.URL{Scheme: p.Type, Host: net.JoinHostPort(p.Host, strconv.Itoa(p.Port))}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Next picks the proxy for the next request
func (m *Manager) Next() (*Instance, error) {
	if m == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var inst *Instance
	switch m.rotation {
	case RotationRandom:
		if avail := m.availableLocked(); len(avail) > 0 {
			inst = avail[rand.IntN(len(avail))]
		}
	case RotationWeighted:
		inst = weighted(m.availableLocked())
	default:
		inst = m.roundRobinLocked()
	}
	if inst == nil {
		return nil, ErrNoHealthyProxies
	}

	inst.mu.Lock()
	inst.uses++
	inst.mu.Unlock()
	return inst, nil
}

func (m *Manager) roundRobinLocked() *Instance {
	for i := range m.proxies {
		idx := (m.next + i) % len(m.proxies)
		if m.usable(m.proxies[idx]) {
			m.next = (idx + 1) % len(m.proxies)
			return m.proxies[idx]
		}
	}
	return nil
}

func (m *Manager) availableLocked() []*Instance {
	var out []*Instance
	for _, p := range m.proxies {
		if m.usable(p) {
			out = append(out, p)
		}
	}
	return out
}

func weighted(avail []*Instance) *Instance {
	total := 0
	for _, p := range avail {
		total += p.Weight
	}
	if total == 0 {
		return nil
	}
	pick := rand.IntN(total)
	for _, p := range avail {
		pick -= p.Weight
		if pick < 0 {
			return p
		}
	}
	return avail[len(avail)-1]
}

// usable reports whether p may take traffic, reinstating it once its rest is over
func (m *Manager) usable(p *Instance) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available && m.now().Sub(p.lastFailure) >= m.recovery {
		p.available = true
		p.failures = 0
	}
	return p.available
}

// ReportSuccess clears the consecutive failure count
func (m *Manager) ReportSuccess(inst *Instance) {
	if m == nil || inst == nil {
		return
	}
	inst.mu.Lock()
	inst.successes++
	inst.failures = 0
	inst.available = true
	inst.mu.Unlock()
}

// ReportFailure counts a failure and rests the proxy at the threshold
func (m *Manager) ReportFailure(inst *Instance, err error) {
	if m == nil || inst == nil {
		return
	}
	inst.mu.Lock()
	inst.failures++
	inst.lastFailure = m.now()
	rested := inst.available && inst.failures >= m.threshold
	if rested {
		inst.available = false
	}
	inst.mu.Unlock()

	if rested {
		m.logger.Warn("proxy.resting", "proxy", inst.Name, "recovery", m.recovery, "error", err)
	}
}

// Stats reports pool health
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.proxies)}
	for _, p := range m.proxies {
		healthy := m.usable(p)
		if healthy {
			s.Healthy++
		}
		p.mu.Lock()
		s.Proxies = append(s.Proxies, InstanceStats{
			Name:      p.Name,
			URL:       p.URL.Redacted(),
			Healthy:   healthy,
			Uses:      p.uses,
			Successes: p.successes,
			Failures:  p.failures,
		})
		p.mu.Unlock()
	}
	return s
}

// Ping fails when every proxy is resting; it fits monitoring.PingHealthCheck
func (m *Manager) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s := m.Stats(); s.Total > 0 && s.Healthy == 0 {
		return ErrNoHealthyProxies
	}
	return nil
}
