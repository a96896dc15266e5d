// cmd/reviewscrapexter/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/valpere/ReviewScrapexter/internal/adapters"
	"github.com/valpere/ReviewScrapexter/internal/browser"
	"github.com/valpere/ReviewScrapexter/internal/config"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/output"
	"github.com/valpere/ReviewScrapexter/internal/proxy"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/internal/utils"
	"github.com/valpere/ReviewScrapexter/internal/validator"
)

// app owns every long-lived component behind the orchestrator
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *monitoring.MetricsManager
	store        jobs.Store
	pool         *browser.BrowserPool
	proxies      *proxy.Manager
	sink         output.Sink
	orchestrator *jobs.Orchestrator
}

// newApp wires the pipeline from configuration. The orchestrator is not started.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.metrics = monitoring.NewMetricsManager(monitoring.MetricsConfig{
		Namespace: cfg.Metrics.Namespace,
		Path:      cfg.Metrics.Path,
	})

	store, err := jobs.NewStore(ctx, cfg.Store, utils.NewComponentLogger(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.store = store

	var (
		renderer   browser.Renderer
		interactor browser.Interactor
	)
	if cfg.Browser.Enabled {
		a.pool = browser.NewBrowserPool(browser.FromConfig(cfg.Browser), utils.NewComponentLogger(logger, "browser"))
		renderer, interactor = a.pool, a.pool
	}

	a.proxies, err = proxy.NewManager(cfg.Fetcher.Proxy, utils.NewComponentLogger(logger, "proxy"))
	if err != nil {
		return nil, fmt.Errorf("configure proxies: %w", err)
	}

	fetcher := scraper.NewFetcherFromConfig(cfg.Fetcher, renderer, utils.NewComponentLogger(logger, "fetcher")).
		WithMetrics(a.metrics).
		WithProxies(a.proxies)

	registry := adapters.NewRegistryFromConfig(adapters.Dependencies{
		Config:     cfg,
		Fetcher:    fetcher,
		Interactor: interactor,
		Logger:     utils.NewComponentLogger(logger, "adapters"),
		Metrics:    a.metrics,
	})

	v, err := newValidator(cfg.Validator, logger, a.metrics)
	if err != nil {
		return nil, err
	}

	var archivers []jobs.Archiver
	sink, err := output.NewSink(ctx, cfg.Archive, utils.NewComponentLogger(logger, "archive"))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if sink != nil {
		a.sink = sink
		archivers = append(archivers, sink)
	}

	a.orchestrator = jobs.New(jobs.OptionsFrom(cfg), jobs.Deps{
		Store:     a.store,
		Adapters:  registry,
		Validator: v,
		Archivers: archivers,
		Logger:    utils.NewComponentLogger(logger, "jobs"),
		Metrics:   a.metrics,
	})
	return a, nil
}

// newValidator builds the AI validator. With the validator disabled it runs
// without a model and every batch takes the fallback path.
func newValidator(cfg config.ValidatorConfig, logger *slog.Logger, metrics *monitoring.MetricsManager) (*validator.Validator, error) {
	var model llms.Model
	if cfg.Enabled {
		m, err := validator.NewModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("create validator model: %w", err)
		}
		model = m
	} else {
		logger.Warn("validator.disabled", "effect", "results are degraded")
	}

	v, err := validator.New(model, validator.OptionsFrom(cfg), utils.NewComponentLogger(logger, "validator"))
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}
	retry := apperrors.NewService(apperrors.RetryConfig{
		MaxRetries:    2,
		BaseDelay:     apperrors.DefaultRetryConfig().BaseDelay,
		BackoffFactor: 2.0,
		MaxDelay:      apperrors.DefaultRetryConfig().MaxDelay,
		Jitter:        true,
	}, apperrors.CircuitBreakerConfig{}).WithLogger(logger)
	return v.WithMetrics(metrics).WithRetry(retry), nil
}

// shutdown drains the orchestrator and then releases its dependencies
func (a *app) shutdown(ctx context.Context) error {
	var err error
	if a.orchestrator != nil {
		err = a.orchestrator.Shutdown(ctx)
	}
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	var errs []error
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job store: %w", err))
		}
	}
	return errors.Join(errs...)
}
