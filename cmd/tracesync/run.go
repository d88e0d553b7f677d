package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"traceSync/internal/contract"
	"traceSync/internal/indexer"
	"traceSync/internal/metrics"
	"traceSync/internal/reconcile"
)

const (
	roleAll       = "all"
	roleScheduler = "scheduler"
	roleWorker    = "worker"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the crawl scheduler and workers",
		RunE:  runSync,
	}
	fs := cmd.Flags()
	fs.String("role", roleAll, "process role (all, scheduler, worker)")
	addChainFlags(fs)
	addScanFlags(fs)
	addStorageFlags(fs)
	addQueueFlags(fs)
	fs.Duration("interval", 10*time.Second, "scheduler tick interval")
	fs.Int("workers", 4, "concurrent queue workers")
	fs.Duration("poll-timeout", 5*time.Second, "queue poll timeout")
	fs.Int("max-retries", 5, "in-task retries for RPC reads")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial in-task retry backoff")
	fs.String("metrics-addr", ":9100", "Prometheus listen address, empty disables")
	addLogFlags(fs)
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	role, _ := cmd.Flags().GetString("role")
	if role != roleAll && role != roleScheduler && role != roleWorker {
		return fmt.Errorf("unknown role %q", role)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	decoder, err := contract.NewDecoder()
	if err != nil {
		return err
	}
	streams, err := indexer.ResolveStreams(decoder, cfg.Events)
	if err != nil {
		return err
	}

	logger.Info("tracesync start",
		zap.String("role", role),
		zap.String("contract", chainClient.Contract().Hex()),
		zap.String("network", cfg.Network),
		zap.Uint64("max_blocks_per_scan", cfg.MaxBlocksPerScan()),
		zap.Int("streams", len(streams)),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Int("workers", cfg.Workers),
	)

	var pool *indexer.Pool
	if role == roleAll || role == roleWorker {
		router := reconcile.NewRouter(logger.Named("reconcile"))
		if repos, err := st.repositories(); err == nil {
			reconcile.NewRegistry(repos, logger.Named("reconcile")).Register(router)
		} else {
			logger.Warn("aggregate reconciliation disabled, events are only recorded", zap.Error(err))
		}

		recovered, err := q.RecoverActive(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			logger.Info("recovered in-flight jobs", zap.Int("jobs", recovered))
		}

		worker := indexer.NewWorker(chainClient, decoder, router, st.events, indexer.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		}, logger.Named("worker"))
		pool = indexer.NewPool(q, worker, cfg.Workers, cfg.PollTimeout, logger.Named("pool")).
			WithReclaim(q, cfg.JobLease/2)
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if role == roleAll || role == roleScheduler {
		scheduler := indexer.NewScheduler(indexer.SchedulerConfig{
			Interval:         cfg.Interval,
			MaxBlocksPerScan: cfg.MaxBlocksPerScan(),
			StartBlock:       cfg.StartBlock,
			Streams:          streams,
		}, chainClient, st.cursors, q, logger.Named("scheduler"))
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	if pool != nil {
		g.Go(func() error { return pool.Run(ctx) })
	}

	return g.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
