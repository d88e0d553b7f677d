package indexer

import (
	"context"
	"time"

	"traceSync/internal/chain"
)

// RetryPolicy bounds in-task retries of chain reads. Failures that outlast it
// go back to the queue.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// withRetry retries fn while it fails with an RPC error.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !chain.IsRPCError(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
