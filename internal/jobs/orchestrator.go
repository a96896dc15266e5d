// internal/jobs/orchestrator.go
package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/ReviewScrapexter/internal/adapters"
	"github.com/valpere/ReviewScrapexter/internal/config"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/internal/validator"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const (
	storeWriteTimeout = 5 * time.Second
	rejectedRetention = time.Minute
)

// AdapterSet resolves the source adapter for a request
type AdapterSet interface {
	Get(source types.Source) (adapters.SourceAdapter, error)
}

// ReviewValidator classifies candidates and summarizes accepted reviews
type ReviewValidator interface {
	BatchSize() int
	ValidateBatch(ctx context.Context, subject validator.Subject, batch []types.ReviewCandidate) ([]types.Verdict, error)
	Accept(source types.Source, c types.ReviewCandidate, verdict types.Verdict) (types.NormalizedReview, bool)
	Fallback(source types.Source, c types.ReviewCandidate) (types.NormalizedReview, bool)
	Normalize(ctx context.Context, subject validator.Subject, reviews []types.NormalizedReview) (types.SourceSummary, error)
}

// Archiver receives every SUCCESS snapshot
type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot) error
}

// Options configures the worker pool and job limits
type Options struct {
	Workers        int
	QueueSize      int
	TimeLimit      time.Duration
	SoftTimeLimit  time.Duration
	Retention      time.Duration
	SnapshotBatch  int
	RenderLimit    int
	ArchiveTimeout time.Duration
	// ResponseCaps bounds the reviews surfaced per source.
	ResponseCaps map[types.Source]int
	// RawCaps bounds the candidates sent to validation per source.
	RawCaps map[types.Source]int
}

// OptionsFrom maps configuration to orchestrator options
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Workers:        cfg.Jobs.Workers,
		QueueSize:      cfg.Jobs.QueueSize,
		TimeLimit:      cfg.Jobs.TimeLimit,
		SoftTimeLimit:  cfg.Jobs.SoftTimeLimit,
		Retention:      cfg.Jobs.Retention,
		SnapshotBatch:  cfg.Jobs.SnapshotBatch,
		RenderLimit:    cfg.Fetcher.RenderLimit,
		ArchiveTimeout: cfg.Archive.Timeout,
		ResponseCaps: map[types.Source]int{
			types.SourceStore:            cfg.Jobs.StoreCap,
			types.SourceCommunity:        cfg.Jobs.CommunityCap,
			types.SourceShoppingComments: cfg.Jobs.ShoppingCap,
		},
		RawCaps: map[types.Source]int{
			types.SourceShoppingComments: cfg.Jobs.ShoppingRawCap,
		},
	}
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Store     Store
	Broker    *Broker
	Adapters  AdapterSet
	Validator ReviewValidator
	Archivers []Archiver
	Logger    *slog.Logger
	Metrics   *monitoring.MetricsManager
}

type record struct {
	id     string
	mu     sync.Mutex
	snap   *Snapshot
	cancel context.CancelCauseFunc
}

func (r *record) current() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone()
}

// Orchestrator accepts job requests and runs them on a bounded worker pool
type Orchestrator struct {
	opts      Options
	store     Store
	broker    *Broker
	adapters  AdapterSet
	validator ReviewValidator
	archivers []Archiver
	logger    *slog.Logger
	metrics   *monitoring.MetricsManager

	queue   chan *record
	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	records map[string]*record
	closed  bool

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator; call Start to launch the workers
func New(opts Options, deps Deps) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = 30 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 10 * time.Second
	}
	if deps.Broker == nil {
		deps.Broker = NewBroker()
	}

	baseCtx, stop := context.WithCancelCause(context.Background())
	return &Orchestrator{
		opts:      opts,
		store:     deps.Store,
		broker:    deps.Broker,
		adapters:  deps.Adapters,
		validator: deps.Validator,
		archivers: deps.Archivers,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		queue:     make(chan *record, opts.QueueSize),
		baseCtx:   baseCtx,
		stop:      stop,
		records:   make(map[string]*record),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Start launches the worker pool
func (o *Orchestrator) Start() {
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.logger.Info("orchestrator.started", "workers", o.opts.Workers, "queue_size", o.opts.QueueSize)
}

// Shutdown stops accepting jobs, cancels running ones and fails queued ones.
// It waits for the workers until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
		o.stop(ErrShuttingDown)
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates req, records a PENDING job and enqueues it. It never waits
// for pipeline work.
func (o *Orchestrator) Submit(ctx context.Context, req types.JobRequest) (*Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	id := o.newID()
	rec := &record{id: id, snap: &Snapshot{
		ID:        id,
		Request:   req,
		State:     types.StatePending,
		CreatedAt: o.now().UTC(),
	}}
	pending := rec.snap.Clone()
	if err := o.store.PutWithMetadata(ctx, pending.Clone(), o.opts.Retention); err != nil {
		return nil, fmt.Errorf("store job %s: %w", id, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.fail(ctx, rec, ErrShuttingDown)
		return nil, ErrShuttingDown
	}
	select {
	case o.queue <- rec:
		o.records[id] = rec
		o.mu.Unlock()
	default:
		o.mu.Unlock()
		o.fail(ctx, rec, ErrQueueFull)
		if err := o.store.Expire(ctx, id, rejectedRetention); err != nil {
			o.logger.Debug("job.expire_failed", "job_id", id, "error", err)
		}
		o.metrics.RecordJobTerminal(string(req.Source), string(types.StateFailure))
		return nil, ErrQueueFull
	}

	o.metrics.UpdateJobsQueued(len(o.queue))
	o.logger.Info("job.submitted", "job_id", id, "source", req.Source, "product", req.ProductName)
	return pending, nil
}

// Status returns the stored record for id
func (o *Orchestrator) Status(ctx context.Context, id string) (*Snapshot, error) {
	return o.store.Get(ctx, id)
}

// Subscribe returns the current record and a channel of subsequent snapshots.
// The channel is closed after the terminal snapshot; call cancel when done.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (*Snapshot, <-chan *Snapshot, func(), error) {
	events, cancel := o.broker.Subscribe(id)
	current, err := o.store.Get(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	if current.State.IsTerminal() {
		cancel()
	}
	return current, events, cancel, nil
}

// Revoke cancels a running job or fails a queued one. Both end in FAILURE
// with ErrRevoked.
func (o *Orchestrator) Revoke(ctx context.Context, id string) error {
	o.mu.Lock()
	rec, ok := o.records[id]
	o.mu.Unlock()
	if !ok {
		if _, err := o.store.Get(ctx, id); err != nil {
			return err
		}
		return ErrTerminal
	}

	// The queued-or-running decision and the FAILURE write share the record
	// lock with execute's cancel assignment and STARTED transition.
	rec.mu.Lock()
	if rec.snap.State.IsTerminal() {
		rec.mu.Unlock()
		return ErrTerminal
	}
	if cancel := rec.cancel; cancel != nil {
		rec.mu.Unlock()
		o.logger.Info("job.revoke", "job_id", id, "running", true)
		cancel(ErrRevoked)
		return nil
	}
	err := o.failLocked(ctx, rec, ErrRevoked)
	rec.mu.Unlock()
	if err != nil {
		return err
	}
	o.logger.Info("job.revoke", "job_id", id, "running", false)
	o.forget(id)
	return nil
}

// Recover settles records a previous process left unfinished. Jobs that were
// still queued are enqueued again; jobs that had started are failed with
// ErrInterrupted. It returns how many records it settled.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	snaps, err := o.store.Unfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}

	settled := 0
	for _, snap := range snaps {
		rec := &record{id: snap.ID, snap: snap}

		o.mu.Lock()
		_, live := o.records[snap.ID]
		requeued := false
		if !live && !o.closed && snap.State == types.StatePending {
			select {
			case o.queue <- rec:
				o.records[snap.ID] = rec
				requeued = true
			default:
			}
		}
		o.mu.Unlock()

		switch {
		case live:
			continue
		case requeued:
			o.logger.Info("job.requeued", "job_id", snap.ID, "source", snap.Request.Source)
		default:
			if err := o.fail(ctx, rec, ErrInterrupted); err != nil {
				continue
			}
			o.metrics.RecordJobTerminal(string(snap.Request.Source), string(types.StateFailure))
		}
		settled++
	}
	o.metrics.UpdateJobsQueued(len(o.queue))
	return settled, nil
}

// QueueDepth reports queued jobs and queue capacity
func (o *Orchestrator) QueueDepth() (queued, capacity int) {
	return len(o.queue), cap(o.queue)
}

// Ping checks the job store
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for rec := range o.queue {
		o.metrics.UpdateJobsQueued(len(o.queue))
		if o.baseCtx.Err() != nil {
			o.fail(context.Background(), rec, ErrShuttingDown)
			o.forget(rec.id)
			continue
		}
		o.execute(rec)
	}
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.records, id)
	o.mu.Unlock()
}

// execute runs one job under its hard time limit. A job that overruns is
// failed here even if its pipeline goroutine has not returned yet; the
// goroutine's later writes are rejected by the terminal check.
func (o *Orchestrator) execute(rec *record) {
	snap := rec.current()
	id, source := snap.ID, snap.Request.Source
	defer o.forget(id)

	ctx, cancel := context.WithCancelCause(o.baseCtx)
	defer cancel(nil)
	ctx, stopTimer := context.WithTimeoutCause(ctx, o.opts.TimeLimit,
		&apperrors.JobTimeoutError{JobID: id, Limit: o.opts.TimeLimit})
	defer stopTimer()

	start := o.now()
	rec.mu.Lock()
	rec.cancel = cancel
	err := o.applyLocked(ctx, rec, types.StateStarted, func(s *Snapshot) {
		t := start.UTC()
		s.StartedAt = &t
	})
	rec.mu.Unlock()
	if stderrors.Is(err, ErrTerminal) {
		return
	}
	o.metrics.RecordJobStart()
	logger := o.logger.With("job_id", id, "source", source)
	logger.Info("job.started")

	if err == nil {
		if o.opts.SoftTimeLimit > 0 && o.opts.SoftTimeLimit < o.opts.TimeLimit {
			soft := time.AfterFunc(o.opts.SoftTimeLimit, func() {
				logger.Warn("job.soft_time_limit", "limit", o.opts.SoftTimeLimit)
			})
			defer soft.Stop()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- &apperrors.OrchestrationError{JobID: id, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			done <- o.pipeline(ctx, rec, logger)
		}()

		select {
		case err = <-done:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
	} else {
		err = &apperrors.OrchestrationError{JobID: id, Err: err}
	}

	if err != nil {
		o.fail(ctx, rec, err)
	}

	final := rec.current()
	o.metrics.RecordJobEnd(string(source), string(final.State), o.now().Sub(start))
	logger.Info("job.finished", "state", final.State, "duration", o.now().Sub(start), "reviews", final.Current)
}

func (o *Orchestrator) pipeline(ctx context.Context, rec *record, logger *slog.Logger) error {
	snap := rec.current()
	req := snap.Request
	source := req.Source

	adapter, err := o.adapters.Get(source)
	if err != nil {
		return &apperrors.OrchestrationError{JobID: snap.ID, Err: err}
	}

	collection, err := adapter.Collect(ctx, req, scraper.NewRenderBudget(o.opts.RenderLimit))
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	if collection.PagesFetched == 0 {
		return fmt.Errorf("%w (%d pages failed, %d skipped)", ErrNoContent, collection.PagesFailed, collection.Skipped)
	}

	candidates := collection.Candidates
	if limit := o.opts.RawCaps[source]; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	stats := *collection
	stats.Candidates = nil
	logger.Info("job.collected", "pages", stats.PagesFetched, "failed", stats.PagesFailed,
		"skipped", stats.Skipped, "candidates", len(candidates))

	streamer := NewStreamer(o.opts.ResponseCaps[source], o.opts.SnapshotBatch,
		func(ctx context.Context, reviews []types.NormalizedReview, total int) error {
			err := o.apply(ctx, rec, types.StateProgress, func(s *Snapshot) {
				s.Reviews = reviews
				s.Current = len(reviews)
				s.Total = total
				s.Collection = &stats
			})
			if err == nil {
				o.metrics.RecordSnapshot(string(source))
			}
			return err
		})
	streamer.SetTotal(len(candidates))

	subject := validator.Subject{Source: source, Product: req.ProductName}
	degraded := false
	size := max(o.validator.BatchSize(), 1)
	for start := 0; start < len(candidates); start += size {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		batch := candidates[start:min(start+size, len(candidates))]
		accepted, fellBack, err := o.validate(ctx, subject, batch, logger)
		if err != nil {
			return err
		}
		degraded = degraded || fellBack
		o.metrics.RecordAccepted(string(source), len(accepted))
		if err := streamer.Add(ctx, accepted...); err != nil {
			return err
		}
	}
	if err := streamer.Flush(ctx); err != nil {
		return err
	}

	reviews := streamer.Reviews()
	if reviews == nil {
		reviews = []types.NormalizedReview{}
	}
	summary, err := o.validator.Normalize(ctx, subject, reviews)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		logger.Warn("job.normalize_degraded", "error", err)
		o.metrics.RecordValidatorFallback("normalize")
		summary = validator.LocalSummary(reviews)
		degraded = true
	}

	result := &types.JobResult{
		Reviews:    reviews,
		Summary:    summary,
		TotalFound: streamer.Found(),
		RawCount:   len(candidates),
	}
	err = o.apply(ctx, rec, types.StateSuccess, func(s *Snapshot) {
		t := o.now().UTC()
		s.Result = result
		s.Reviews = nil
		s.Current = len(reviews)
		s.Total = len(candidates)
		s.Collection = &stats
		s.Degraded = degraded
		s.CompletedAt = &t
	})
	if err != nil {
		return err
	}

	o.archive(ctx, rec.current(), logger)
	return nil
}

// validate runs one batch through the validator. A validator failure accepts
// the batch at the fallback confidence instead of failing the job.
func (o *Orchestrator) validate(ctx context.Context, subject validator.Subject, batch []types.ReviewCandidate, logger *slog.Logger) ([]types.NormalizedReview, bool, error) {
	accepted := make([]types.NormalizedReview, 0, len(batch))

	verdicts, err := o.validator.ValidateBatch(ctx, subject, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, context.Cause(ctx)
		}
		logger.Warn("job.validator_degraded", "batch", len(batch), "error", err)
		o.metrics.RecordValidatorFallback("validate")
		for _, c := range batch {
			if r, ok := o.validator.Fallback(subject.Source, c); ok {
				accepted = append(accepted, r)
			}
		}
		return accepted, true, nil
	}

	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(batch) {
			continue
		}
		if r, ok := o.validator.Accept(subject.Source, batch[v.Index], v); ok {
			accepted = append(accepted, r)
		}
	}
	return accepted, false, nil
}

func (o *Orchestrator) archive(ctx context.Context, snap *Snapshot, logger *slog.Logger) {
	if len(o.archivers) == 0 {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ArchiveTimeout)
	defer cancel()
	for _, a := range o.archivers {
		if err := a.Archive(actx, snap); err != nil {
			logger.Error("job.archive_failed", "error", err)
		}
	}
}

// apply moves rec to next, then writes the record through to the store and
// the broker while holding the record lock so one job's writes stay ordered.
func (o *Orchestrator) apply(ctx context.Context, rec *record, next types.JobState, mutate func(*Snapshot)) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return o.applyLocked(ctx, rec, next, mutate)
}

// applyLocked is apply for callers already holding rec.mu
func (o *Orchestrator) applyLocked(ctx context.Context, rec *record, next types.JobState, mutate func(*Snapshot)) error {
	current := rec.snap.State
	if current.IsTerminal() {
		return ErrTerminal
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, current, next)
	}

	snap := rec.snap.Clone()
	snap.State = next
	if mutate != nil {
		mutate(snap)
	}
	rec.snap = snap

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	out := snap.Clone()
	err := o.store.PutWithMetadata(wctx, out, o.opts.Retention)
	o.broker.Publish(out)
	if err != nil {
		o.logger.Error("job.store_write_failed", "job_id", snap.ID, "state", next, "error", err)
		return fmt.Errorf("store job %s: %w", snap.ID, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, rec *record, cause error) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return o.failLocked(ctx, rec, cause)
}

func (o *Orchestrator) failLocked(ctx context.Context, rec *record, cause error) error {
	err := o.applyLocked(ctx, rec, types.StateFailure, func(s *Snapshot) {
		t := o.now().UTC()
		s.Error = cause.Error()
		s.CompletedAt = &t
	})
	if err != nil {
		if !stderrors.Is(err, ErrTerminal) {
			o.logger.Error("job.fail_write_failed", "job_id", rec.id, "error", err)
		}
		return err
	}
	o.logger.Warn("job.failed", "job_id", rec.id, "error", cause)
	return nil
}
