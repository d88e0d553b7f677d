package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"traceSync/internal/model"
)

// Options configure a Redis-backed queue.
type Options struct {
	Prefix      string
	Queue       string
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// Lease is how long a dequeued job may stay in flight before
	// RecoverActive hands it to another worker.
	Lease time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "tracesync"
	}
	if o.Queue == "" {
		o.Queue = "crawl"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	return o
}

// RedisQueue keeps waiting and in-flight job ids in lists, delayed retries in
// a sorted set scored by ready time, and job bodies in hashes.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
}

// Dial connects to the Redis server named by url (redis://host:port/db).
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{client: client, opts: opts.withDefaults(), now: time.Now}
}

func (q *RedisQueue) key(part string) string {
	return q.opts.Prefix + ":" + q.opts.Queue + ":" + part
}

func (q *RedisQueue) jobKey(id string) string {
	return q.key("job:" + id)
}

// The scripts below keep every state transition in one round trip, so a
// job is always reachable from exactly one of wait, active, delayed or dead.
var (
	enqueueScript = redis.NewScript(`
		if redis.call("hsetnx", KEYS[1], "payload", ARGV[1]) == 0 then
			return 0
		end
		redis.call("hset", KEYS[1], "attempts", "0", "enqueued_at", ARGV[2])
		redis.call("lpush", KEYS[2], ARGV[3])
		return 1
	`)

	promoteScript = redis.NewScript(`
		local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
		for _, id in ipairs(ids) do
			redis.call("zrem", KEYS[1], id)
			redis.call("lpush", KEYS[2], id)
		end
		return #ids
	`)

	retryDeadScript = redis.NewScript(`
		if redis.call("lrem", KEYS[1], "1", ARGV[1]) == 0 then
			return 0
		end
		redis.call("hset", KEYS[2], "attempts", "0")
		redis.call("hdel", KEYS[2], "failed_at")
		redis.call("lpush", KEYS[3], ARGV[1])
		return 1
	`)

	// ARGV[1] is the job key prefix, ARGV[2] the lease cutoff in ms.
	recoverScript = redis.NewScript(`
		local ids = redis.call("lrange", KEYS[1], "0", "-1")
		local moved = 0
		for _, id in ipairs(ids) do
			local leased = tonumber(redis.call("hget", ARGV[1] .. id, "leased_at") or "0")
			if leased <= tonumber(ARGV[2]) then
				redis.call("lrem", KEYS[1], "1", id)
				redis.call("rpush", KEYS[2], id)
				moved = moved + 1
			end
		end
		return moved
	`)
)

func (q *RedisQueue) Enqueue(ctx context.Context, task model.FetchTask) (bool, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}
	id := task.ID()
	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("wait")},
		payload, q.now().UnixMilli(), id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return created == 1, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if _, err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	id, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, q.jobKey(id), "attempts", 1)
		pipe.HSet(ctx, q.jobKey(id), "leased_at", q.now().UnixMilli())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", id, err)
	}
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Body vanished; drop the orphaned id.
		q.client.LRem(ctx, q.key("active"), 1, id)
		return nil, nil
	}
	return job, nil
}

// promoteDue moves delayed jobs whose backoff elapsed back to the wait list.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	promoted, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		q.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return promoted, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.Del(ctx, q.jobKey(job.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	dead := job.Attempts >= q.opts.MaxAttempts

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "last_error", msg)
		if dead {
			pipe.HSet(ctx, q.jobKey(job.ID), "failed_at", q.now().UnixMilli())
			pipe.LPush(ctx, q.key("dead"), job.ID)
			return nil
		}
		readyAt := q.now().Add(q.backoff(job.Attempts))
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", job.ID, err)
	}
	return dead, nil
}

// backoff doubles the base delay per attempt already made.
func (q *RedisQueue) backoff(attempts int) time.Duration {
	delay := q.opts.Backoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return delay
}

// RecoverActive returns jobs whose lease expired to the head of the wait
// list. Jobs leased within Options.Lease are left to the worker holding them.
func (q *RedisQueue) RecoverActive(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.opts.Lease).UnixMilli()
	recovered, err := recoverScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait")},
		q.key("job:"), cutoff,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover active: %w", err)
	}
	return recovered, nil
}

// DeadLetters lists dead-lettered jobs, most recent first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]Job, error) {
	ids, err := q.client.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// RetryDead moves a dead-lettered job back to the wait list with a fresh
// attempt budget.
func (q *RedisQueue) RetryDead(ctx context.Context, id string) error {
	moved, err := retryDeadScript.Run(ctx, q.client,
		[]string{q.key("dead"), q.jobKey(id), q.key("wait")},
		id,
	).Int()
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if moved == 0 {
		return fmt.Errorf("retry %s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var (
		waiting, active, dead *redis.IntCmd
		delayed               *redis.IntCmd
	)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		dead = pipe.LLen(ctx, q.key("dead"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	payload, ok := fields["payload"]
	if !ok {
		return nil, nil
	}
	job := &Job{ID: id, MaxAttempts: q.opts.MaxAttempts, LastError: fields["last_error"]}
	if err := json.Unmarshal([]byte(payload), &job.Task); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if v, err := strconv.Atoi(fields["attempts"]); err == nil {
		job.Attempts = v
	}
	if v, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(v)
	}
	return job, nil
}
