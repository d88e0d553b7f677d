package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"traceSync/internal/metrics"
	"traceSync/internal/model"
	"traceSync/internal/storage"
)

// HeadReader reads the current chain head.
type HeadReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// Enqueuer accepts fetch tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task model.FetchTask) (bool, error)
}

// SchedulerConfig holds the scan cadence and range policy.
type SchedulerConfig struct {
	Interval         time.Duration
	MaxBlocksPerScan uint64
	StartBlock       uint64
	Streams          []Stream
}

// Scheduler turns cursor positions into fetch tasks. It is the only writer
// of cursors during normal operation.
type Scheduler struct {
	cfg     SchedulerConfig
	chain   HeadReader
	cursors storage.CursorStore
	queue   Enqueuer
	logger  *zap.Logger
	running atomic.Bool
}

func NewScheduler(cfg SchedulerConfig, chain HeadReader, cursors storage.CursorStore, queue Enqueuer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, chain: chain, cursors: cursors, queue: queue, logger: logger}
}

// Run ticks immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if s.cfg.MaxBlocksPerScan == 0 {
		return fmt.Errorf("max blocks per scan must be greater than zero")
	}
	if len(s.cfg.Streams) == 0 {
		return fmt.Errorf("no streams configured")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick scans every stream once. A call made while another tick is running
// returns immediately.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicksSkipped.Inc()
		s.logger.Debug("previous tick still running, skipping")
		return nil
	}
	defer s.running.Store(false)
	metrics.SchedulerTicksTotal.Inc()

	head, err := s.chain.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	var errs []error
	for _, stream := range s.cfg.Streams {
		if err := s.scanStream(ctx, stream, head); err != nil {
			metrics.SchedulerErrors.WithLabelValues(stream.Name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", stream.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) scanStream(ctx context.Context, stream Stream, head uint64) error {
	next, ok, err := s.cursors.GetCursor(ctx, stream.Name)
	if err != nil {
		return err
	}
	if !ok {
		next = s.cfg.StartBlock
	}

	r, ok := NextRange(next, head, s.cfg.MaxBlocksPerScan)
	if !ok {
		s.logger.Debug("chain has not advanced", zap.String("stream", stream.Name), zap.Uint64("next", next), zap.Uint64("head", head))
		return nil
	}

	task := stream.Task(r)
	created, err := s.queue.Enqueue(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.ID(), err)
	}
	if created {
		metrics.SchedulerTasksEnqueued.WithLabelValues(stream.Name).Inc()
	}

	if err := s.cursors.SetCursor(ctx, stream.Name, r.To+1); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	metrics.CursorBlock.WithLabelValues(stream.Name).Set(float64(r.To + 1))

	s.logger.Info("range enqueued",
		zap.String("stream", stream.Name),
		zap.Uint64("from", r.From),
		zap.Uint64("to", r.To),
		zap.Bool("deduplicated", !created),
	)
	return nil
}
