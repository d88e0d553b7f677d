package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"traceSync/internal/contract"
	"traceSync/internal/model"
	"traceSync/internal/storage"
)

// Repositories are the aggregate stores reconciliation writes to.
type Repositories struct {
	Batches     storage.BatchRepository
	Products    storage.ProductRepository
	Commitments storage.CommitmentRepository
}

// Registry handles the registry contract's events.
type Registry struct {
	repos  Repositories
	logger *zap.Logger
}

func NewRegistry(repos Repositories, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{repos: repos, logger: logger}
}

// Register installs every registry handler on router.
func (g *Registry) Register(router *Router) {
	router.Register(contract.EventProductCreated, g.ProductCreated)
	router.Register(contract.EventBatchCreated, g.BatchCreated)
	router.Register(contract.EventTraceEventRecorded, g.TraceEventRecorded)
	router.Register(contract.EventBatchMerkleRootCommitted, g.BatchMerkleRootCommitted)
	router.Register(contract.EventBatchCodeBound, g.BatchCodeBound)
	router.Register(contract.EventCommitterUpdated, g.recordOnly)
	router.Register(contract.EventPaused, g.recordOnly)
	router.Register(contract.EventUnpaused, g.recordOnly)
}

// NewRegistryRouter builds a router with every registry handler installed.
func NewRegistryRouter(repos Repositories, logger *zap.Logger) *Router {
	router := NewRouter(logger)
	NewRegistry(repos, logger).Register(router)
	return router
}

func (g *Registry) ProductCreated(ctx context.Context, ev model.DecodedEvent) error {
	onchainID, ok := ev.StringArg("productId")
	if !ok {
		return missing(ev.EventName, "productId")
	}

	product, err := g.repos.Products.FindProductByPendingTxHash(ctx, ev.TxHash)
	if err != nil {
		return err
	}
	if product == nil {
		product, err = g.repos.Products.FindProductByOnchainID(ctx, onchainID)
		if err != nil {
			return err
		}
		if product != nil && product.OnchainSynced {
			return nil
		}
	}
	if product == nil {
		return &MismatchError{EventName: ev.EventName, Aggregate: "product", Key: "tx " + ev.TxHash + " / id " + onchainID}
	}

	if err := g.repos.Products.MarkProductSynced(ctx, product.ID, onchainID); err != nil {
		return err
	}
	g.logger.Info("product synced",
		zap.String("product_id", product.ID),
		zap.String("onchain_product_id", onchainID),
		zap.String("tx_hash", ev.TxHash),
	)
	return nil
}

func (g *Registry) BatchCreated(ctx context.Context, ev model.DecodedEvent) error {
	onchainID, ok := ev.StringArg("batchId")
	if !ok {
		return missing(ev.EventName, "batchId")
	}

	batch, err := g.findBatch(ctx, ev, onchainID)
	if err != nil {
		return err
	}
	if batch.OnchainSynced && batch.OnchainBatchID != nil && *batch.OnchainBatchID == onchainID {
		return nil
	}

	if err := g.repos.Batches.MarkBatchSynced(ctx, batch.ID, onchainID); err != nil {
		return err
	}
	g.logger.Info("batch synced",
		zap.String("batch_id", batch.ID),
		zap.String("onchain_batch_id", onchainID),
		zap.String("tx_hash", ev.TxHash),
	)
	return nil
}

func (g *Registry) TraceEventRecorded(ctx context.Context, ev model.DecodedEvent) error {
	onchainID, ok := ev.StringArg("batchId")
	if !ok {
		return missing(ev.EventName, "batchId")
	}
	code, ok := ev.IntArg("eventType")
	if !ok {
		return missing(ev.EventName, "eventType")
	}

	batch, err := g.findSyncedBatch(ctx, ev, onchainID)
	if err != nil {
		return err
	}

	actor, _ := ev.StringArg("actor")
	dataHash, _ := ev.StringArg("dataHash")
	entry := model.TraceEntry{
		BatchID:     batch.ID,
		EventType:   traceEventType(code),
		ActorWallet: actor,
		DataHash:    dataHash,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		Timestamp:   eventTime(ev),
	}
	return g.repos.Batches.AppendTraceEvent(ctx, batch.ID, entry)
}

func (g *Registry) BatchMerkleRootCommitted(ctx context.Context, ev model.DecodedEvent) error {
	onchainID, ok := ev.StringArg("batchId")
	if !ok {
		return missing(ev.EventName, "batchId")
	}
	root, ok := ev.StringArg("merkleRoot")
	if !ok {
		return missing(ev.EventName, "merkleRoot")
	}

	batch, err := g.findSyncedBatch(ctx, ev, onchainID)
	if err != nil {
		return err
	}

	err = g.repos.Batches.MergeBatchMetadata(ctx, batch.ID, map[string]any{
		model.MetaMerkleRoot: root,
		model.MetaTxHash:     ev.TxHash,
	})
	if err != nil {
		return err
	}

	if g.repos.Commitments != nil {
		confirmed, err := g.repos.Commitments.ConfirmCommitment(ctx, ev.TxHash, ev.BlockNumber)
		if err != nil {
			return err
		}
		if confirmed {
			g.logger.Info("merkle commitment confirmed",
				zap.String("batch_id", batch.ID),
				zap.String("root", root),
				zap.String("tx_hash", ev.TxHash),
			)
		}
	}
	return nil
}

func (g *Registry) BatchCodeBound(ctx context.Context, ev model.DecodedEvent) error {
	onchainID, ok := ev.StringArg("batchId")
	if !ok {
		return missing(ev.EventName, "batchId")
	}
	code, ok := ev.StringArg("batchCode")
	if !ok {
		return missing(ev.EventName, "batchCode")
	}
	codeHash, ok := ev.StringArg("batchCodeHash")
	if !ok {
		return missing(ev.EventName, "batchCodeHash")
	}

	batch, err := g.findSyncedBatch(ctx, ev, onchainID)
	if err != nil {
		return err
	}
	if batch.BatchCode == code && batch.BatchCodeHash != nil && *batch.BatchCodeHash == codeHash {
		return nil
	}
	return g.repos.Batches.BindBatchCode(ctx, batch.ID, code, codeHash)
}

func (g *Registry) recordOnly(_ context.Context, ev model.DecodedEvent) error {
	g.logger.Info("registry event recorded",
		zap.String("event_name", ev.EventName),
		zap.String("tx_hash", ev.TxHash),
		zap.Any("args", ev.Args),
	)
	return nil
}

// findBatch matches by pending tx hash first, then by on-chain id.
func (g *Registry) findBatch(ctx context.Context, ev model.DecodedEvent, onchainID string) (*model.Batch, error) {
	batch, err := g.repos.Batches.FindBatchByPendingTxHash(ctx, ev.TxHash)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		return batch, nil
	}
	batch, err = g.repos.Batches.FindBatchByOnchainID(ctx, onchainID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, &MismatchError{EventName: ev.EventName, Aggregate: "batch", Key: "tx " + ev.TxHash + " / id " + onchainID}
	}
	return batch, nil
}

// findSyncedBatch is findBatch for events emitted after BatchCreated. A miss
// is deferred rather than dropped, since the batch may simply not be synced
// yet.
func (g *Registry) findSyncedBatch(ctx context.Context, ev model.DecodedEvent, onchainID string) (*model.Batch, error) {
	batch, err := g.findBatch(ctx, ev, onchainID)
	var mismatch *MismatchError
	if errors.As(err, &mismatch) {
		mismatch.Deferred = true
	}
	return batch, err
}

func traceEventType(code int64) string {
	if name, ok := model.TraceEventTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", code)
}

// eventTime prefers the timestamp emitted by the contract over the block time.
func eventTime(ev model.DecodedEvent) *time.Time {
	if raw, ok := ev.StringArg("timestamp"); ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			ts := time.Unix(secs, 0).UTC()
			return &ts
		}
	}
	return ev.BlockTimestamp
}
