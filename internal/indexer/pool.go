package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"traceSync/internal/metrics"
	"traceSync/internal/queue"
)

// Pool runs workers that consume the job queue in parallel.
type Pool struct {
	queue       queue.Queue
	worker      *Worker
	size        int
	pollTimeout time.Duration
	logger      *zap.Logger

	reclaimer    Reclaimer
	reclaimEvery time.Duration
}

// Reclaimer returns jobs abandoned by a crashed worker to the queue.
type Reclaimer interface {
	RecoverActive(ctx context.Context) (int, error)
}

func NewPool(q queue.Queue, worker *Worker, size int, pollTimeout time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Pool{queue: q, worker: worker, size: size, pollTimeout: pollTimeout, logger: logger}
}

// WithReclaim makes Run hand expired in-flight jobs back to the queue every
// interval.
func (p *Pool) WithReclaim(r Reclaimer, every time.Duration) *Pool {
	p.reclaimer = r
	p.reclaimEvery = every
	return p
}

// Run blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if p.reclaimer != nil && p.reclaimEvery > 0 {
		g.Go(func() error {
			p.reclaim(ctx)
			return nil
		})
	}
	for i := 0; i < p.size; i++ {
		logger := p.logger.With(zap.Int("worker", i))
		g.Go(func() error {
			p.loop(ctx, logger)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, logger *zap.Logger) {
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollTimeout):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job, logger)
	}
}

func (p *Pool) reclaim(ctx context.Context) {
	ticker := time.NewTicker(p.reclaimEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := p.reclaimer.RecoverActive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("reclaim in-flight jobs failed", zap.Error(err))
			}
			continue
		}
		if n > 0 {
			p.logger.Info("reclaimed expired jobs", zap.Int("jobs", n))
		}
	}
}

// handle acks or fails one job. A job interrupted by shutdown stays in
// flight until its lease expires.
func (p *Pool) handle(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	logger = logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))

	err := p.worker.Process(ctx, job.Task, job.Final())
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		if err := p.queue.Ack(ctx, job); err != nil {
			logger.Warn("ack failed", zap.Error(err))
			return
		}
		metrics.TasksCompleted.WithLabelValues(job.Task.Stream).Inc()
		return
	}

	dead, ferr := p.queue.Fail(ctx, job, err)
	if ferr != nil {
		logger.Warn("fail job failed", zap.Error(ferr), zap.NamedError("cause", err))
		return
	}
	if dead {
		metrics.TasksDeadLettered.WithLabelValues(job.Task.Stream).Inc()
		logger.Error("job dead-lettered", zap.Error(err))
		return
	}
	metrics.TasksRetried.WithLabelValues(job.Task.Stream).Inc()
	logger.Warn("job will be retried", zap.Error(err))
}
