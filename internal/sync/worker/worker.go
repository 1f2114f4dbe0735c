// Package worker drains the sync job queue: a poll loop fetches pending
// jobs in batches and executes them one by one, never letting a bad job
// block the rest of the batch.
package worker

import (
	"context"
	"log/slog"
	"time"

	syncmetrics "ledgerbridge/internal/sync/metrics"
	"ledgerbridge/internal/sync/models"
	"ledgerbridge/internal/sync/store"
	dErrors "ledgerbridge/pkg/domain-errors"
)

const (
	defaultInterval    = 5 * time.Second
	defaultBatchSize   = 25
	defaultMaxAttempts = 5
)

// Fetcher executes one job's provider fetch.
type Fetcher interface {
	Fetch(ctx context.Context, job *models.Job) ([]byte, error)
}

// Worker polls the queue and executes pending jobs.
type Worker struct {
	queue   store.Store
	fetcher Fetcher

	interval    time.Duration
	batchSize   int
	maxAttempts int

	logger  *slog.Logger
	metrics *syncmetrics.Metrics
	now     func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

// WithBatchSize sets the number of jobs fetched per poll.
func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// WithMaxAttempts bounds retries of transient failures.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics attaches sync metrics.
func WithMetrics(m *syncmetrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New constructs a Worker.
func New(queue store.Store, fetcher Fetcher, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		fetcher:     fetcher,
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run polls until the context is canceled. The in-flight batch finishes
// before Run returns, so shutdown never abandons a half-executed job.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("sync worker started",
		"interval", w.interval.String(),
		"batch_size", w.batchSize,
		"max_attempts", w.maxAttempts,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.queue.FetchPending(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "could not fetch pending sync jobs", "error", err)
		return
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := w.now()
	payload, err := w.fetcher.Fetch(ctx, job)
	now := w.now().UTC()

	switch {
	case err == nil:
		if mErr := w.queue.MarkDone(ctx, job.ID, int64(len(payload)), now); mErr != nil {
			w.logger.ErrorContext(ctx, "could not mark sync job done", "job_id", job.ID, "error", mErr)
			return
		}
		w.count("done")
		if w.metrics != nil {
			w.metrics.ObserveFetch(start)
		}
		w.logger.InfoContext(ctx, "sync job done",
			"job_id", job.ID,
			"entity", string(job.Entity),
			"resource_id", job.ResourceID,
			"bytes", len(payload),
		)

	case dErrors.HasCode(err, dErrors.CodeNeedsReauth):
		// Terminal: retrying cannot succeed until someone reauthorizes.
		if mErr := w.queue.MarkFailed(ctx, job.ID, err.Error(), now); mErr != nil {
			w.logger.ErrorContext(ctx, "could not park sync job", "job_id", job.ID, "error", mErr)
			return
		}
		w.count("parked")
		w.logger.WarnContext(ctx, "sync job parked pending reauthorization",
			"job_id", job.ID, "error", err)

	case dErrors.Retryable(err) && job.Attempts+1 < w.maxAttempts:
		if mErr := w.queue.RecordAttempt(ctx, job.ID, err.Error(), now); mErr != nil {
			w.logger.ErrorContext(ctx, "could not record sync attempt", "job_id", job.ID, "error", mErr)
			return
		}
		w.count("retried")
		w.logger.WarnContext(ctx, "sync job will retry",
			"job_id", job.ID, "attempt", job.Attempts+1, "error", err)

	default:
		if mErr := w.queue.MarkFailed(ctx, job.ID, err.Error(), now); mErr != nil {
			w.logger.ErrorContext(ctx, "could not mark sync job failed", "job_id", job.ID, "error", mErr)
			return
		}
		w.count("failed")
		w.logger.ErrorContext(ctx, "sync job failed",
			"job_id", job.ID, "attempts", job.Attempts+1, "error", err)
	}
}

func (w *Worker) count(result string) {
	if w.metrics != nil {
		w.metrics.IncJob(result)
	}
}
