package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traceSync/internal/chain"
	"traceSync/internal/commit"
	"traceSync/internal/config"
	"traceSync/internal/merkle"
	"traceSync/internal/storage"
)

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Build a batch Merkle root and submit it to the registry",
		RunE:  runCommit,
	}
	fs := cmd.Flags()
	fs.String("batch", "", "local batch id")
	fs.Int64("from", 0, "first event id (inclusive)")
	fs.Int64("to", 0, "last event id (inclusive)")
	fs.String("committer-key", "", "hex private key of the committer account")
	fs.Duration("tx-timeout", 2*time.Minute, "time to wait for the commit receipt")
	fs.Bool("dry-run", false, "print the root and leaves without submitting")
	addChainFlags(fs)
	addStorageFlags(fs)
	addLogFlags(fs)
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runCommit(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	batchID, _ := cmd.Flags().GetString("batch")
	from, _ := cmd.Flags().GetInt64("from")
	to, _ := cmd.Flags().GetInt64("to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	req := commit.Request{BatchID: batchID, FromEventID: from, ToEventID: to}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	repos, err := st.repositories()
	if err != nil {
		return err
	}

	if dryRun {
		orch := commit.NewOrchestrator(repos.Batches, st.events, repos.Commitments, nil, logger)
		plan, err := orch.Prepare(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"batch_id":         plan.Batch.ID,
			"onchain_batch_id": plan.Batch.OnchainBatchID,
			"root":             plan.Tree.Root().Hex(),
			"leaves":           merkle.HexLeaves(plan.Tree.Leaves()),
			"events":           len(plan.Events),
		})
	}

	if cfg.CommitterKey == "" {
		return fmt.Errorf("committer key is required")
	}
	client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	writer, err := chain.NewWriter(ctx, client, cfg.CommitterKey, cfg.TxTimeout)
	if err != nil {
		return err
	}
	logger.Info("committer ready", zap.String("address", writer.Address().Hex()))

	orch := commit.NewOrchestrator(repos.Batches, st.events, repos.Commitments, writer, logger)
	commitment, err := orch.Commit(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd, commitment)
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare a batch's local Merkle root with the registry",
		RunE:  runVerify,
	}
	fs := cmd.Flags()
	fs.String("code", "", "human-readable batch code")
	fs.Bool("check-leaves", false, "also re-derive the local root from stored leaves")
	addChainFlags(fs)
	addLogFlags(fs)
	fs.String("pg-dsn", "", "Postgres DSN")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	code, _ := cmd.Flags().GetString("code")
	checkLeaves, _ := cmd.Flags().GetBool("check-leaves")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// verify only reads aggregates, so the event backend is irrelevant here.
	cfg.StorageBackend = config.BackendPostgres
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	repos, err := st.repositories()
	if err != nil {
		return err
	}

	client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	verifier := commit.NewVerifier(repos.Batches, repos.Commitments, client)
	result, err := verifier.Verify(ctx, code)
	if err != nil {
		return err
	}

	out := map[string]any{"verification": result}
	if checkLeaves {
		batch, err := repos.Batches.FindBatchByCode(ctx, code)
		if err != nil {
			return err
		}
		if batch != nil {
			ok, err := verifier.CheckLeaves(ctx, batch.ID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				logger.Info("no recorded commitment", zap.String("batch_id", batch.ID))
			case err != nil:
				return err
			default:
				out["leaves_consistent"] = ok
			}
		}
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
