// cmd/reviewscrapexter/serve.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/security"
	"github.com/valpere/ReviewScrapexter/internal/server"
	"github.com/valpere/ReviewScrapexter/internal/utils"
)

const maxGoroutines = 10000

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		Long: `Start the review acquisition service. Jobs are submitted with
POST /api/v1/reviews/{store,community,shopping} and polled with
GET /api/v1/jobs/{id}. SIGINT or SIGTERM drains the service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, addr string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	logger, closeLog, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if n, err := a.orchestrator.Recover(ctx); err != nil {
		logger.Warn("jobs.recover_failed", "error", err)
	} else if n > 0 {
		logger.Info("jobs.recovered", "jobs", n)
	}
	a.orchestrator.Start()

	health := monitoring.NewHealthManager(monitoring.HealthConfig{
		CheckInterval:    30 * time.Second,
		DefaultTimeout:   5 * time.Second,
		DetailedResponse: true,
		Version:          version,
	})
	health.RegisterCheck(monitoring.PingHealthCheck("job_store", true, a.orchestrator.Ping))
	health.RegisterCheck(monitoring.QueueHealthCheck(a.orchestrator.QueueDepth))
	health.RegisterCheck(monitoring.GoroutineHealthCheck(maxGoroutines))
	if a.proxies != nil {
		health.RegisterCheck(monitoring.PingHealthCheck("proxies", false, a.proxies.Ping))
	}
	if p, ok := a.sink.(interface{ Ping(context.Context) error }); ok {
		health.RegisterCheck(monitoring.PingHealthCheck("archive", false, p.Ping))
	}
	health.Start(ctx)
	defer health.Stop()

	a.metrics.StartSystemMetricsCollection(ctx, 15*time.Second)

	srv := server.New(a.orchestrator, server.Options{
		SubmitRateLimit: cfg.Server.SubmitRateLimit,
		SubmitRateBurst: cfg.Server.SubmitRateBurst,
		Health:          health,
		Metrics:         a.metrics,
		Logger:          utils.NewComponentLogger(logger, "http"),
		Guard:           security.NewGuard(cfg.Server.URLPolicy),
	})

	logger.Info("service.starting",
		"address", cfg.Server.Address,
		"version", version,
		"store", cfg.Store.Type,
		"archive", cfg.Archive.Type,
		"validator_enabled", cfg.Validator.Enabled,
		"browser_enabled", cfg.Browser.Enabled,
	)
	serveErr := srv.ListenAndServe(ctx, cfg.Server)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Warn("service.shutdown_incomplete", "error", err)
	}
	logger.Info("service.stopped")
	return serveErr
}
