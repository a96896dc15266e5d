// internal/browser/pool.go
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// backend is what the pool drives; ChromeClient in production
type backend interface {
	Render(ctx context.Context, url string) (string, error)
	RenderInteractive(ctx context.Context, url string, plan InteractionPlan) (*InteractionResult, error)
	Close() error
}

// BrowserPool bounds concurrent tabs across all jobs and launches Chrome on first use
type BrowserPool struct {
	config  *BrowserConfig
	slots   chan struct{}
	logger  *slog.Logger
	factory func(*BrowserConfig) (backend, error)

	mu      sync.Mutex
	backend backend
	closed  bool
}

// NewBrowserPool creates a pool allowing config.PoolSize concurrent renders
func NewBrowserPool(config *BrowserConfig, logger *slog.Logger) *BrowserPool {
	if config == nil {
		config = DefaultBrowserConfig()
	}
	size := config.PoolSize
	if size <= 0 {
		size = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserPool{
		config: config,
		slots:  make(chan struct{}, size),
		logger: logger,
		factory: func(c *BrowserConfig) (backend, error) {
			return NewChromeClient(c)
		},
	}
}

// IsEnabled returns whether browser automation is enabled
func (p *BrowserPool) IsEnabled() bool {
	return p != nil && p.config.Enabled
}

// Capacity returns the maximum number of concurrent renders
func (p *BrowserPool) Capacity() int {
	return cap(p.slots)
}

// InUse returns the number of renders currently holding a slot
func (p *BrowserPool) InUse() int {
	return len(p.slots)
}

func (p *BrowserPool) acquire(ctx context.Context) (backend, func(), error) {
	if !p.IsEnabled() {
		return nil, nil, ErrBrowserDisabled
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := func() { <-p.slots }

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		release()
		return nil, nil, fmt.Errorf("browser pool is closed")
	}
	if p.backend == nil {
		b, err := p.factory(p.config)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to create browser: %w", err)
		}
		p.logger.Info("browser.started", "pool_size", cap(p.slots), "headless", p.config.Headless)
		p.backend = b
	}
	return p.backend, release, nil
}

// Render renders url in a pooled tab
func (p *BrowserPool) Render(ctx context.Context, url string) (string, error) {
	b, release, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return b.Render(ctx, url)
}

// RenderInteractive runs an interaction plan in a pooled tab
func (p *BrowserPool) RenderInteractive(ctx context.Context, url string, plan InteractionPlan) (*InteractionResult, error) {
	b, release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return b.RenderInteractive(ctx, url, plan)
}

// Close shuts the browser down; later renders fail
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.backend != nil {
		err := p.backend.Close()
		p.backend = nil
		return err
	}
	return nil
}
