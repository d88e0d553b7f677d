package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"traceSync/internal/chain"
	"traceSync/internal/config"
	"traceSync/internal/indexer"
	"traceSync/internal/queue"
	"traceSync/internal/reconcile"
	"traceSync/internal/storage"
	"traceSync/internal/storage/postgres"
	"traceSync/internal/storage/sqlite"
)

type eventStore interface {
	storage.EventStore
	storage.EventLister
}

// stores groups the persistence handles a command needs. pg is nil when no
// Postgres DSN is configured.
type stores struct {
	cursors storage.CursorStore
	events  eventStore
	pg      *postgres.Store
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// repositories returns the aggregate repositories, or an error when the
// command needs them and Postgres is not configured.
func (s *stores) repositories() (reconcile.Repositories, error) {
	if s.pg == nil {
		return reconcile.Repositories{}, fmt.Errorf("pg dsn is required for aggregate repositories")
	}
	return reconcile.Repositories{Batches: s.pg, Products: s.pg, Commitments: s.pg}, nil
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	out := &stores{}

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		out.closers = append(out.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			out.Close()
			return nil, err
		}
		out.pg = pg
	}

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		if out.pg == nil {
			return nil, fmt.Errorf("pg dsn is required for the postgres backend")
		}
		out.cursors = out.pg
		out.events = out.pg
	case config.BackendSQLite:
		lite, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() { lite.Close() })
		out.cursors = lite
		out.events = lite
	default:
		out.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	logger.Debug("stores opened", zap.String("backend", cfg.StorageBackend), zap.Bool("postgres", out.pg != nil))
	return out, nil
}

func dialChain(ctx context.Context, cfg config.Config) (*chain.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	contract, err := indexer.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL, contract, cfg.RPCTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	return client, nil
}

func openQueue(ctx context.Context, cfg config.Config) (*queue.RedisQueue, func(), error) {
	client, err := queue.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	q := queue.NewRedisQueue(client, queue.Options{
		Queue:       cfg.Queue,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.QueueBackoff,
		Lease:       cfg.JobLease,
	})
	return q, func() { client.Close() }, nil
}
