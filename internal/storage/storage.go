package storage

import (
	"context"
	"errors"

	"traceSync/internal/model"
)

// ErrNotFound is returned by lookups that require an existing row.
var ErrNotFound = errors.New("not found")

// CursorStore persists the next block to scan per stream. Writes are
// last-write-wins.
type CursorStore interface {
	GetCursor(ctx context.Context, stream string) (uint64, bool, error)
	SetCursor(ctx context.Context, stream string, nextBlock uint64) error
}

// EventStore owns persisted contract events. UpsertEvents conflicts on
// (tx_hash, event_name) and is safe to repeat with the same input.
type EventStore interface {
	UpsertEvents(ctx context.Context, events []model.PersistedEvent) error
	FindByEventName(ctx context.Context, eventName string) ([]model.PersistedEvent, error)
	FindByRelatedAggregate(ctx context.Context, aggregateKey string) ([]model.PersistedEvent, error)
}

// BatchRepository is the narrow write surface over the batch aggregate.
// Lookups return (nil, nil) when no row matches.
type BatchRepository interface {
	FindBatchByID(ctx context.Context, id string) (*model.Batch, error)
	FindBatchByCode(ctx context.Context, code string) (*model.Batch, error)
	FindBatchByPendingTxHash(ctx context.Context, txHash string) (*model.Batch, error)
	FindBatchByOnchainID(ctx context.Context, onchainID string) (*model.Batch, error)
	MarkBatchSynced(ctx context.Context, batchID, onchainID string) error
	AppendTraceEvent(ctx context.Context, batchID string, entry model.TraceEntry) error
	ListTraceEvents(ctx context.Context, batchID string) ([]model.TraceEntry, error)
	MergeBatchMetadata(ctx context.Context, batchID string, partial map[string]any) error
	BindBatchCode(ctx context.Context, batchID, code, codeHash string) error
}

// ProductRepository is the narrow write surface over the product aggregate.
type ProductRepository interface {
	FindProductByPendingTxHash(ctx context.Context, txHash string) (*model.Product, error)
	FindProductByOnchainID(ctx context.Context, onchainID string) (*model.Product, error)
	MarkProductSynced(ctx context.Context, productID, onchainID string) error
}

// CommitmentRepository records Merkle commitments.
type CommitmentRepository interface {
	SaveCommitment(ctx context.Context, commitment model.MerkleCommitment) error
	ConfirmCommitment(ctx context.Context, txHash string, blockNumber uint64) (bool, error)
	LatestCommitment(ctx context.Context, batchID string) (*model.MerkleCommitment, error)
}

// EventLister pages through every persisted event by id.
type EventLister interface {
	ListEvents(ctx context.Context, afterID int64, limit int) ([]model.PersistedEvent, error)
}
