package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"traceSync/internal/contract"
	"traceSync/internal/metrics"
	"traceSync/internal/model"
	"traceSync/internal/reconcile"
	"traceSync/internal/storage"
)

// ErrReconcileFailed is returned when at least one event of a task failed
// reconciliation transiently. The events are persisted before it is returned.
var ErrReconcileFailed = errors.New("reconciliation failed")

// LogSource reads registry logs and block times.
type LogSource interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, eventSignature common.Hash) ([]model.RawLog, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Worker applies one fetch task: fetch, decode, reconcile, persist.
type Worker struct {
	chain   LogSource
	decoder *contract.Decoder
	router  *reconcile.Router
	events  storage.EventStore
	retry   RetryPolicy
	logger  *zap.Logger
}

func NewWorker(chain LogSource, decoder *contract.Decoder, router *reconcile.Router, events storage.EventStore, retry RetryPolicy, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{chain: chain, decoder: decoder, router: router, events: events, retry: retry, logger: logger}
}

// Process runs task. final marks the last delivery attempt; events that fail
// reconciliation on it are persisted as FAILED instead of PENDING. Applying a
// BatchCreated replays the events deferred while its batch was unknown.
func (w *Worker) Process(ctx context.Context, task model.FetchTask, final bool) error {
	logger := w.logger.With(zap.String("stream", task.Stream), zap.String("job_id", task.ID()))

	logs, err := w.fetchLogs(ctx, task)
	if err != nil {
		return fmt.Errorf("fetch logs: %w", err)
	}
	if len(logs) == 0 {
		logger.Debug("no logs in range", zap.Uint64("from", task.FromBlock), zap.Uint64("to", task.ToBlock))
		return nil
	}

	decoded := w.decode(logs, logger)
	w.attachTimestamps(ctx, decoded, logger)

	persisted := make([]model.PersistedEvent, 0, len(decoded))
	failed := 0
	var replay []string
	markReplay := func(key string) {
		if key == "" || slices.Contains(replay, key) {
			return
		}
		replay = append(replay, key)
	}
	for _, ev := range decoded {
		res := w.router.Route(ctx, ev)
		switch res.Outcome {
		case reconcile.Failed:
			failed++
		case reconcile.Deferred:
			markReplay(ev.AggregateKey())
		case reconcile.Applied:
			if ev.EventName == contract.EventBatchCreated {
				markReplay(ev.AggregateKey())
			}
		}
		persisted = append(persisted, model.NewPersistedEvent(ev, res.Status(final), res.Note()))
	}

	if err := w.events.UpsertEvents(ctx, persisted); err != nil {
		return fmt.Errorf("persist events: %w", err)
	}

	// Deferred events are re-checked after they are stored as well, so a
	// batch synced by another worker in between is not missed.
	for _, key := range replay {
		n, err := w.replayDeferred(ctx, key, logger)
		if err != nil {
			return fmt.Errorf("replay %s: %w", key, err)
		}
		failed += n
	}

	logger.Info("range applied",
		zap.Uint64("from", task.FromBlock),
		zap.Uint64("to", task.ToBlock),
		zap.Int("logs", len(logs)),
		zap.Int("events", len(persisted)),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d events: %w", failed, len(persisted), ErrReconcileFailed)
	}
	return nil
}

// replayDeferred re-routes the PENDING rows stored for one aggregate. Rows
// whose batch is still unknown are left untouched. It returns how many rows
// failed again; those stay PENDING.
func (w *Worker) replayDeferred(ctx context.Context, aggregateKey string, logger *zap.Logger) (int, error) {
	rows, err := w.events.FindByRelatedAggregate(ctx, aggregateKey)
	if err != nil {
		return 0, err
	}

	var updates []model.PersistedEvent
	failed := 0
	for _, row := range rows {
		if row.Status != model.EventPending {
			continue
		}
		ev := row.Decoded()
		res := w.router.Route(ctx, ev)
		switch res.Outcome {
		case reconcile.Deferred:
			continue
		case reconcile.Failed:
			failed++
		}
		updates = append(updates, model.NewPersistedEvent(ev, res.Status(false), res.Note()))
	}
	if len(updates) == 0 {
		return failed, nil
	}
	if err := w.events.UpsertEvents(ctx, updates); err != nil {
		return failed, fmt.Errorf("persist replayed events: %w", err)
	}
	logger.Info("deferred events replayed",
		zap.String("aggregate_key", aggregateKey),
		zap.Int("events", len(updates)),
		zap.Int("failed", failed),
	)
	return failed, nil
}

func (w *Worker) fetchLogs(ctx context.Context, task model.FetchTask) ([]model.RawLog, error) {
	signature := common.HexToHash(task.Topic0)
	var logs []model.RawLog
	err := withRetry(ctx, w.retry, func(ctx context.Context) error {
		var err error
		logs, err = w.chain.GetLogs(ctx, task.FromBlock, task.ToBlock, signature)
		if err != nil {
			w.logger.Warn("get logs failed", zap.Error(err), zap.Uint64("from", task.FromBlock), zap.Uint64("to", task.ToBlock))
		}
		return err
	})
	return logs, err
}

// decode drops logs that do not decode. Neither case is retried.
func (w *Worker) decode(logs []model.RawLog, logger *zap.Logger) []model.DecodedEvent {
	out := make([]model.DecodedEvent, 0, len(logs))
	for _, log := range logs {
		ev, err := w.decoder.Decode(log)
		if err != nil {
			var decodeErr *contract.DecodeError
			switch {
			case errors.Is(err, contract.ErrUnknownEvent):
				metrics.LogsDropped.WithLabelValues("unknown").Inc()
				logger.Debug("skip unknown log", zap.String("tx_hash", log.TxHash), zap.String("topic0", log.Topic0()))
			case errors.As(err, &decodeErr):
				metrics.LogsDropped.WithLabelValues("malformed").Inc()
				logger.Warn("skip malformed log",
					zap.String("tx_hash", log.TxHash),
					zap.String("event_name", decodeErr.EventName),
					zap.Uint64("block_number", log.BlockNumber),
					zap.Error(err),
				)
			default:
				metrics.LogsDropped.WithLabelValues("error").Inc()
				logger.Warn("skip log", zap.String("tx_hash", log.TxHash), zap.Error(err))
			}
			continue
		}
		if ev == nil {
			continue
		}
		metrics.EventsDecoded.WithLabelValues(ev.EventName).Inc()
		out = append(out, *ev)
	}
	return out
}

// attachTimestamps fills block times. A lookup failure leaves the field nil.
func (w *Worker) attachTimestamps(ctx context.Context, events []model.DecodedEvent, logger *zap.Logger) {
	for i := range events {
		number := events[i].BlockNumber
		var secs uint64
		err := withRetry(ctx, w.retry, func(ctx context.Context) error {
			var err error
			secs, err = w.chain.BlockTimestamp(ctx, number)
			return err
		})
		if err != nil {
			logger.Warn("block timestamp unavailable", zap.Uint64("block_number", number), zap.Error(err))
			continue
		}
		ts := time.Unix(int64(secs), 0).UTC()
		events[i].BlockTimestamp = &ts
	}
}
