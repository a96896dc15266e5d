// cmd/reviewscrapexter/collect.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/output"
	"github.com/valpere/ReviewScrapexter/internal/utils"
	"github.com/valpere/ReviewScrapexter/pkg/api"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

type collectOptions struct {
	out   string
	xlsx  string
	quiet bool
}

func newCollectCmd(root *rootOptions) *cobra.Command {
	opts := &collectOptions{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a single job in-process and print its result",
		Long: `Run one acquisition job without the HTTP service. Progress lines go to
stderr and the final status document is written as JSON to stdout or --out.
Jobs are kept in memory regardless of store.type; archive settings apply.`,
		Example: `  reviewscrapexter collect store -p "Acme Kettle" -u https://shop.example.com/kettle
  reviewscrapexter collect community -p "Acme Kettle" -b Acme --xlsx kettle.xlsx`,
	}
	cmd.PersistentFlags().StringVarP(&opts.out, "out", "o", "", "write the result JSON to this file")
	cmd.PersistentFlags().StringVar(&opts.xlsx, "xlsx", "", "also write the reviews workbook to this file")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress lines")

	cmd.AddCommand(sourceCommands(func(cmd *cobra.Command, source types.Source, f *requestFlags) error {
		req, err := f.jobRequest(source)
		if err != nil {
			return err
		}
		return runCollect(cmd.Context(), root, opts, req, cmd.OutOrStdout(), cmd.ErrOrStderr())
	})...)
	return cmd
}

func runCollect(ctx context.Context, root *rootOptions, opts *collectOptions, req types.JobRequest, stdout, stderr io.Writer) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	cfg.Store.Type = "memory"

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
	a.orchestrator.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			logger.Warn("collect.shutdown_incomplete", "error", err)
		}
	}()

	progress := stderr
	if opts.quiet {
		progress = io.Discard
	}
	final, err := runJob(ctx, a.orchestrator, req, func(s *jobs.Snapshot) {
		printProgress(progress, s.Status())
	})
	if err != nil {
		return err
	}

	if opts.xlsx != "" && final.State == types.StateSuccess {
		if err := writeWorkbookFile(opts.xlsx, final); err != nil {
			return err
		}
	}
	if err := writeResult(opts.out, stdout, final.Status()); err != nil {
		return err
	}
	if final.State == types.StateFailure {
		return &api.JobFailedError{JobID: final.ID, Message: final.Error}
	}
	return nil
}

// runJob submits req and follows its snapshots until a terminal state.
// Interrupting ctx revokes the job.
func runJob(ctx context.Context, o *jobs.Orchestrator, req types.JobRequest, onSnapshot func(*jobs.Snapshot)) (*jobs.Snapshot, error) {
	snap, err := o.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	current, events, cancel, err := o.Subscribe(ctx, snap.ID)
	if err != nil {
		return nil, fmt.Errorf("follow job %s: %w", snap.ID, err)
	}
	defer cancel()

	onSnapshot(current)
	last := current
	for !last.State.IsTerminal() {
		select {
		case next, ok := <-events:
			if !ok {
				stored, err := o.Status(context.WithoutCancel(ctx), snap.ID)
				if err != nil {
					return nil, err
				}
				if !stored.State.IsTerminal() {
					return nil, fmt.Errorf("job %s stopped reporting in state %s", snap.ID, stored.State)
				}
				next = stored
			}
			if !next.Supersedes(last) {
				continue
			}
			onSnapshot(next)
			last = next
		case <-ctx.Done():
			if err := o.Revoke(context.WithoutCancel(ctx), snap.ID); err != nil && !errors.Is(err, jobs.ErrTerminal) {
				return nil, errors.Join(ctx.Err(), err)
			}
			return nil, ctx.Err()
		}
	}
	return last, nil
}

func writeResult(path string, stdout io.Writer, doc api.JobStatus) error {
	if path == "" {
		return printJSON(stdout, doc)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := printJSON(f, doc); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeWorkbookFile(path string, snap *jobs.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := output.WriteWorkbook(f, snap); err != nil {
		f.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	return f.Close()
}
