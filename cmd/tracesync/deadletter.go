package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and requeue dead-lettered fetch jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs and queue depth",
		RunE:  runDeadLetterList,
	}
	addQueueFlags(listCmd.Flags())
	addLogFlags(listCmd.Flags())

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Move dead-lettered jobs back to the wait list",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDeadLetterRetry,
	}
	addQueueFlags(retryCmd.Flags())
	addLogFlags(retryCmd.Flags())

	cmd.AddCommand(listCmd, retryCmd)
	return cmd
}

func runDeadLetterList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	jobs, err := q.DeadLetters(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "waiting=%d\tactive=%d\tdelayed=%d\tdead=%d\n", stats.Waiting, stats.Active, stats.Delayed, stats.Dead)
	fmt.Fprintln(w, "ID\tSTREAM\tFROM\tTO\tATTEMPTS\tLAST ERROR")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			job.ID, job.Task.EventName, job.Task.FromBlock, job.Task.ToBlock, job.Attempts, job.LastError)
	}
	return w.Flush()
}

func runDeadLetterRetry(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	for _, id := range args {
		if err := q.RetryDead(ctx, id); err != nil {
			return fmt.Errorf("retry %s: %w", id, err)
		}
		logger.Info("dead letter requeued", zap.String("job_id", id))
	}
	return nil
}
