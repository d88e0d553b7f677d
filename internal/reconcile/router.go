package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"traceSync/internal/metrics"
	"traceSync/internal/model"
)

// Outcome classifies the result of routing one event.
type Outcome string

const (
	// Applied means the handler ran to completion.
	Applied Outcome = "applied"
	// Skipped means the event was absorbed: missing arguments or no matching
	// local aggregate. It is not retried.
	Skipped Outcome = "skipped"
	// Deferred means the batch the event refers to is not synced yet. The
	// event stays PENDING until the batch's BatchCreated is applied.
	Deferred Outcome = "deferred"
	// Ignored means no handler is registered for the event name.
	Ignored Outcome = "ignored"
	// Failed means a transient error; the task should be retried.
	Failed Outcome = "failed"
)

// Result is what the router reports for one event.
type Result struct {
	Outcome Outcome
	Err     error
}

// Status maps a result to the persisted event status. final marks the last
// delivery attempt of the enclosing task.
func (r Result) Status(final bool) model.EventStatus {
	switch {
	case r.Outcome == Deferred:
		return model.EventPending
	case r.Outcome != Failed:
		return model.EventConfirmed
	case final:
		return model.EventFailed
	default:
		return model.EventPending
	}
}

// Note is the short reason stored alongside the event.
func (r Result) Note() string {
	if r.Err == nil {
		if r.Outcome == Ignored {
			return "no handler"
		}
		return ""
	}
	return r.Err.Error()
}

// Handler applies one event to off-chain state.
type Handler func(ctx context.Context, ev model.DecodedEvent) error

// Router dispatches decoded events by name and is the single place where
// handler errors are classified.
type Router struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{handlers: make(map[string]Handler), logger: logger}
}

// Register installs h for eventName, replacing any previous handler.
func (r *Router) Register(eventName string, h Handler) {
	r.handlers[eventName] = h
}

// Handles reports whether a handler is registered for eventName.
func (r *Router) Handles(eventName string) bool {
	_, ok := r.handlers[eventName]
	return ok
}

// Route runs the handler for ev. It never panics and never returns an
// unclassified error.
func (r *Router) Route(ctx context.Context, ev model.DecodedEvent) (res Result) {
	fields := []zap.Field{
		zap.String("event_name", ev.EventName),
		zap.String("tx_hash", ev.TxHash),
		zap.Uint64("block_number", ev.BlockNumber),
	}
	defer func() {
		metrics.ReconcileOutcomes.WithLabelValues(ev.EventName, string(res.Outcome)).Inc()
	}()

	h, ok := r.handlers[ev.EventName]
	if !ok {
		r.logger.Debug("no handler for event", fields...)
		return Result{Outcome: Ignored}
	}

	err := r.invoke(ctx, h, ev)
	if err == nil {
		return Result{Outcome: Applied}
	}

	var mismatch *MismatchError
	switch {
	case errors.Is(err, ErrMissingArgument):
		r.logger.Warn("event missing required argument", append(fields, zap.Error(err))...)
		return Result{Outcome: Skipped, Err: err}
	case errors.As(err, &mismatch) && mismatch.Deferred:
		r.logger.Warn("batch not synced yet, event deferred", append(fields, zap.Error(err))...)
		return Result{Outcome: Deferred, Err: err}
	case errors.As(err, &mismatch):
		r.logger.Warn("reconciliation mismatch", append(fields, zap.Error(err))...)
		return Result{Outcome: Skipped, Err: err}
	default:
		r.logger.Error("reconciliation failed", append(fields, zap.Error(err))...)
		return Result{Outcome: Failed, Err: err}
	}
}

func (r *Router) invoke(ctx context.Context, h Handler, ev model.DecodedEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, ev)
}
