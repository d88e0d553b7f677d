package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"traceSync/internal/chain"
	"traceSync/internal/merkle"
	"traceSync/internal/metrics"
	"traceSync/internal/model"
	"traceSync/internal/storage"
)

var (
	ErrInvalidRange   = errors.New("invalid event range")
	ErrEmptySelection = errors.New("no events in range")
	ErrContractPaused = errors.New("registry contract is paused")
	ErrBatchNotSynced = errors.New("batch is not synced on-chain")
)

// ChainWriter submits Merkle roots to the registry.
type ChainWriter interface {
	Paused(ctx context.Context) (bool, error)
	CommitMerkleRoot(ctx context.Context, onchainBatchID string, root common.Hash, fromEventID, toEventID int64) (chain.Receipt, error)
}

// Request selects the events [FromEventID, ToEventID] of one batch.
type Request struct {
	BatchID     string
	FromEventID int64
	ToEventID   int64
}

// Plan is a commitment ready to submit.
type Plan struct {
	Batch  model.Batch
	Events []model.PersistedEvent
	Tree   *merkle.Tree
}

// Orchestrator builds batch Merkle roots and commits them on-chain.
type Orchestrator struct {
	batches     storage.BatchRepository
	events      storage.EventStore
	commitments storage.CommitmentRepository
	writer      ChainWriter
	logger      *zap.Logger
}

func NewOrchestrator(batches storage.BatchRepository, events storage.EventStore, commitments storage.CommitmentRepository, writer ChainWriter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{batches: batches, events: events, commitments: commitments, writer: writer, logger: logger}
}

// Prepare builds the leaf list and tree without touching the chain. The
// first leaf is the batch base state; the rest follow event id order.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Plan, error) {
	if req.FromEventID >= req.ToEventID {
		return nil, fmt.Errorf("%w: from %d must be below to %d", ErrInvalidRange, req.FromEventID, req.ToEventID)
	}

	batch, err := o.batches.FindBatchByID(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %s: %w", req.BatchID, storage.ErrNotFound)
	}
	if batch.OnchainBatchID == nil || *batch.OnchainBatchID == "" {
		return nil, fmt.Errorf("batch %s: %w", req.BatchID, ErrBatchNotSynced)
	}

	all, err := o.events.FindByRelatedAggregate(ctx, model.BatchAggregateKey(*batch.OnchainBatchID))
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	selected := make([]model.PersistedEvent, 0, len(all))
	for _, ev := range all {
		if ev.ID >= req.FromEventID && ev.ID <= req.ToEventID {
			selected = append(selected, ev)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("batch %s events %d-%d: %w", req.BatchID, req.FromEventID, req.ToEventID, ErrEmptySelection)
	}

	leaves := make([]common.Hash, 0, len(selected)+1)
	base, err := merkle.LeafHash(batch.BaseLeafPayload())
	if err != nil {
		return nil, fmt.Errorf("hash batch leaf: %w", err)
	}
	leaves = append(leaves, base)
	for _, ev := range selected {
		leaf, err := merkle.LeafHash(ev.LeafPayload())
		if err != nil {
			return nil, fmt.Errorf("hash event %d: %w", ev.ID, err)
		}
		leaves = append(leaves, leaf)
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, err
	}
	return &Plan{Batch: *batch, Events: selected, Tree: tree}, nil
}

// Commit submits the root for req and records the commitment as pending.
// Nothing is written locally unless the transaction succeeds.
func (o *Orchestrator) Commit(ctx context.Context, req Request) (*model.MerkleCommitment, error) {
	plan, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	paused, err := o.writer.Paused(ctx)
	if err != nil {
		metrics.CommitsSubmitted.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check paused: %w", err)
	}
	if paused {
		metrics.CommitsSubmitted.WithLabelValues("paused").Inc()
		return nil, ErrContractPaused
	}

	root := plan.Tree.Root()
	onchainID := *plan.Batch.OnchainBatchID
	receipt, err := o.writer.CommitMerkleRoot(ctx, onchainID, root, req.FromEventID, req.ToEventID)
	if err != nil {
		metrics.CommitsSubmitted.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("submit root: %w", err)
	}
	metrics.CommitsSubmitted.WithLabelValues("ok").Inc()

	txHash := receipt.TxHash
	block := receipt.BlockNumber
	commitment := model.MerkleCommitment{
		BatchID:     plan.Batch.ID,
		RootHash:    root.Hex(),
		Leaves:      merkle.HexLeaves(plan.Tree.Leaves()),
		FromEventID: req.FromEventID,
		ToEventID:   req.ToEventID,
		TxHash:      &txHash,
		BlockNumber: &block,
		Status:      model.CommitmentPending,
	}
	if err := o.commitments.SaveCommitment(ctx, commitment); err != nil {
		o.logger.Error("root committed on-chain but not recorded locally",
			zap.String("batch_id", plan.Batch.ID),
			zap.String("tx_hash", txHash),
			zap.String("root", root.Hex()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record commitment: %w", err)
	}

	o.logger.Info("merkle root submitted",
		zap.String("batch_id", plan.Batch.ID),
		zap.String("onchain_batch_id", onchainID),
		zap.String("root", root.Hex()),
		zap.Int("leaves", len(commitment.Leaves)),
		zap.String("tx_hash", txHash),
	)
	return &commitment, nil
}
