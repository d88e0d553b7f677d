package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traceSync/internal/model"
	"traceSync/internal/storage"
)

const exportPageSize = 500

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored on-chain events to a JSONL audit file",
		RunE:  runExport,
	}
	fs := cmd.Flags()
	fs.String("out", "./data/events.jsonl", "output JSONL path")
	fs.StringSlice("event", nil, "only export these event names")
	fs.String("status", "", "only export events with this status (PENDING, CONFIRMED, FAILED)")
	fs.Bool("append", false, "append to the output file instead of replacing it")
	addStorageFlags(fs)
	addLogFlags(fs)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	outPath, _ := cmd.Flags().GetString("out")
	names, _ := cmd.Flags().GetStringSlice("event")
	statusFlag, _ := cmd.Flags().GetString("status")
	appendOut, _ := cmd.Flags().GetBool("append")

	filter := exportFilter{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		filter.names[strings.TrimSpace(name)] = struct{}{}
	}
	if statusFlag != "" {
		filter.status = model.EventStatus(strings.ToUpper(statusFlag))
		if !filter.status.Valid() {
			return fmt.Errorf("invalid status %q", statusFlag)
		}
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sink := storage.NewJsonlStorage(outPath)
	sink.Append = appendOut
	written, err := exportEvents(ctx, st.events, sink, filter)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info("events exported", zap.String("path", outPath), zap.Int("events", written))
	return nil
}

type exportFilter struct {
	names  map[string]struct{}
	status model.EventStatus
}

func (f exportFilter) keep(ev model.PersistedEvent) bool {
	if len(f.names) > 0 {
		if _, ok := f.names[ev.EventName]; !ok {
			return false
		}
	}
	return f.status == "" || ev.Status == f.status
}

// exportEvents pages through the store in id order and appends matching
// events to sink.
func exportEvents(ctx context.Context, src storage.EventLister, sink *storage.JsonlStorage, filter exportFilter) (int, error) {
	var (
		afterID int64
		written int
	)
	for {
		page, err := src.ListEvents(ctx, afterID, exportPageSize)
		if err != nil {
			return written, err
		}
		if len(page) == 0 {
			return written, nil
		}
		afterID = page[len(page)-1].ID

		kept := page[:0]
		for _, ev := range page {
			if filter.keep(ev) {
				kept = append(kept, ev)
			}
		}
		if err := sink.PutEventBatch(kept); err != nil {
			return written, err
		}
		written += len(kept)
	}
}
