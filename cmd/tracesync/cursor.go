package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traceSync/internal/contract"
	"traceSync/internal/indexer"
	"traceSync/internal/model"
)

func newCursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or override stream cursors",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the next block of every tracked stream",
		RunE:  runCursorGet,
	}
	addScanFlags(getCmd.Flags())
	addStorageFlags(getCmd.Flags())
	addLogFlags(getCmd.Flags())

	setCmd := &cobra.Command{
		Use:   "set <event> <next-block>",
		Short: "Move a stream cursor, backwards included",
		Args:  cobra.ExactArgs(2),
		RunE:  runCursorSet,
	}
	addStorageFlags(setCmd.Flags())
	addLogFlags(setCmd.Flags())

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func runCursorGet(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	decoder, err := contract.NewDecoder()
	if err != nil {
		return err
	}
	streams, err := indexer.ResolveStreams(decoder, cfg.Events)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	for _, stream := range streams {
		next, ok, err := st.cursors.GetCursor(ctx, stream.Name)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s\t(unset, starts at %d)\n", stream.Name, cfg.StartBlock)
			continue
		}
		fmt.Fprintf(out, "%s\t%d\n", stream.Name, next)
	}
	return nil
}

func runCursorSet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	decoder, err := contract.NewDecoder()
	if err != nil {
		return err
	}
	if _, err := decoder.Topic0(args[0]); err != nil {
		return err
	}
	next, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block %q: %w", args[1], err)
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	stream := model.StreamName(args[0])
	prev, had, err := st.cursors.GetCursor(ctx, stream)
	if err != nil {
		return err
	}
	if err := st.cursors.SetCursor(ctx, stream, next); err != nil {
		return err
	}
	logger.Info("cursor overridden",
		zap.String("stream", stream),
		zap.Uint64("next", next),
		zap.Uint64("previous", prev),
		zap.Bool("had_previous", had),
	)
	return nil
}
