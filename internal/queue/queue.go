package queue

import (
	"context"
	"errors"
	"time"

	"traceSync/internal/model"
)

// ErrJobNotFound is returned when an operator action names an unknown job.
var ErrJobNotFound = errors.New("job not found")

// Job is one delivery of a fetch task. Attempts counts deliveries including
// the current one.
type Job struct {
	ID          string
	Task        model.FetchTask
	Attempts    int
	MaxAttempts int
	LastError   string
	EnqueuedAt  time.Time
}

// Final reports whether a failure of this delivery dead-letters the job.
func (j *Job) Final() bool {
	return j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts
}

// Queue is a durable at-least-once task queue. A dequeued job stays owned by
// the caller until it is acknowledged or failed.
type Queue interface {
	// Enqueue adds a task. It reports false when a job for the same range is
	// already queued or in flight.
	Enqueue(ctx context.Context, task model.FetchTask) (bool, error)
	// Dequeue blocks up to timeout for a job and returns nil when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail schedules a retry with backoff, or dead-letters the job once its
	// attempts are exhausted. It reports whether the job was dead-lettered.
	Fail(ctx context.Context, job *Job, cause error) (bool, error)
}

// Stats is a snapshot of queue depth.
type Stats struct {
	Waiting int64
	Active  int64
	Delayed int64
	Dead    int64
}
