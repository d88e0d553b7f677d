package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traceSync/internal/contract"
	"traceSync/internal/indexer"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Enqueue a historical block range without moving cursors",
		RunE:  runBackfill,
	}
	fs := cmd.Flags()
	fs.Uint64("from", 0, "first block (inclusive)")
	fs.Uint64("to", 0, "last block (inclusive)")
	addScanFlags(fs)
	addQueueFlags(fs)
	addLogFlags(fs)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	from, _ := cmd.Flags().GetUint64("from")
	to, _ := cmd.Flags().GetUint64("to")

	decoder, err := contract.NewDecoder()
	if err != nil {
		return err
	}
	streams, err := indexer.ResolveStreams(decoder, cfg.Events)
	if err != nil {
		return err
	}
	ranges, err := indexer.SplitRange(from, to, cfg.MaxBlocksPerScan())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	created, skipped := 0, 0
	for _, stream := range streams {
		for _, r := range ranges {
			ok, err := q.Enqueue(ctx, stream.Task(r))
			if err != nil {
				return fmt.Errorf("enqueue %s %d-%d: %w", stream.Name, r.From, r.To, err)
			}
			if ok {
				created++
			} else {
				skipped++
			}
		}
	}

	logger.Info("backfill enqueued",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("streams", len(streams)),
		zap.Int("tasks", created),
		zap.Int("already_queued", skipped),
	)
	return nil
}
