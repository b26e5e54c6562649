// Package queue runs the durable job queue: a fixed pool of pollers that
// claim queued jobs with a lease, and a sweeper that requeues jobs whose
// lease lapsed mid-run.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
)

// Runner executes a single claimed job to completion or failure.
type Runner interface {
	Run(ctx context.Context, job *model.ReportJob)
}

// Worker polls the store for queued jobs and hands them to the runner.
type Worker struct {
	store  store.Store
	runner Runner
	cfg    config.WorkerConfig
}

// NewWorker builds a worker pool over the given store and runner.
func NewWorker(st store.Store, runner Runner, cfg config.WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Worker{store: st, runner: runner, cfg: cfg}
}

// Start runs the poller pool and the stalled-job sweeper until ctx is
// cancelled. In-flight jobs finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	zap.L().Info("worker starting",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("lock_duration", w.cfg.LockDuration),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.poll(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.sweep(ctx)
		return nil
	})
	return g.Wait()
}

func (w *Worker) poll(ctx context.Context) {
	for {
		job, err := w.store.ClaimJob(ctx, w.cfg.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("claim failed", zap.Error(err))
		}
		if job != nil {
			w.runner.Run(ctx, job)
			// Drain the queue before sleeping again.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.ReleaseStalledJobs(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Error("stalled sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Warn("requeued stalled jobs", zap.Int("count", n))
			}
		}
	}
}
