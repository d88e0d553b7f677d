package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"traceSync/internal/model"
	"traceSync/internal/storage"
)

const selectBatchSQL = `
	SELECT id::text, batch_code, batch_code_hash, onchain_batch_id, product_id::text, status, closed,
		tx_hash_pending, onchain_synced, metadata, version, created_at, updated_at
	FROM batches
`

func (s *Store) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return s.findBatch(ctx, selectBatchSQL+` WHERE id=$1`, id)
}

func (s *Store) FindBatchByCode(ctx context.Context, code string) (*model.Batch, error) {
	return s.findBatch(ctx, selectBatchSQL+` WHERE batch_code=$1`, code)
}

func (s *Store) FindBatchByPendingTxHash(ctx context.Context, txHash string) (*model.Batch, error) {
	return s.findBatch(ctx, selectBatchSQL+` WHERE lower(tx_hash_pending)=lower($1) LIMIT 1`, txHash)
}

func (s *Store) FindBatchByOnchainID(ctx context.Context, onchainID string) (*model.Batch, error) {
	return s.findBatch(ctx, selectBatchSQL+` WHERE onchain_batch_id=$1 LIMIT 1`, onchainID)
}

func (s *Store) findBatch(ctx context.Context, query string, args ...any) (*model.Batch, error) {
	var (
		b        model.Batch
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&b.ID, &b.BatchCode, &b.BatchCodeHash, &b.OnchainBatchID, &b.ProductID, &b.Status, &b.Closed,
		&b.TxHashPending, &b.OnchainSynced, &metadata, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find batch: %w", err)
	}
	if b.Metadata, err = decodeObject(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for batch %s: %w", b.ID, err)
	}
	return &b, nil
}

// InsertBatch creates a batch row. Used by the API layer and by tests.
func (s *Store) InsertBatch(ctx context.Context, b model.Batch) (model.Batch, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.BatchStatusPending
	}
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return b, fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO batches (id, batch_code, batch_code_hash, onchain_batch_id, product_id, status, closed,
			tx_hash_pending, onchain_synced, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at
	`, b.ID, b.BatchCode, b.BatchCodeHash, b.OnchainBatchID, b.ProductID, b.Status, b.Closed,
		b.TxHashPending, b.OnchainSynced, metadata,
	).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

// MarkBatchSynced records the on-chain id and clears the pending tx hash.
func (s *Store) MarkBatchSynced(ctx context.Context, batchID, onchainID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches
		SET onchain_batch_id=$2, tx_hash_pending=NULL, onchain_synced=true,
			version=version+1, updated_at=now()
		WHERE id=$1
	`, batchID, onchainID)
	if err != nil {
		return fmt.Errorf("mark batch synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batchID, storage.ErrNotFound)
	}
	return nil
}

// AppendTraceEvent adds one trace entry under a row lock on the batch.
// Replays of the same (tx hash, event type) are ignored.
func (s *Store) AppendTraceEvent(ctx context.Context, batchID string, entry model.TraceEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id::text FROM batches WHERE id=$1 FOR UPDATE`, batchID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("batch %s: %w", batchID, storage.ErrNotFound)
			}
			return fmt.Errorf("lock batch: %w", err)
		}

		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO batch_events (id, batch_id, event_type, actor_wallet, data_hash, tx_hash, block_number, "timestamp")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (batch_id, tx_hash, event_type) DO NOTHING
		`, id, batchID, entry.EventType, entry.ActorWallet, entry.DataHash, entry.TxHash,
			int64(entry.BlockNumber), entry.Timestamp)
		if err != nil {
			return fmt.Errorf("insert trace event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE batches SET version=version+1, updated_at=now() WHERE id=$1`, batchID); err != nil {
			return fmt.Errorf("bump batch version: %w", err)
		}
		return nil
	})
}

// ListTraceEvents returns a batch's trace history in display order.
func (s *Store) ListTraceEvents(ctx context.Context, batchID string) ([]model.TraceEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, batch_id::text, event_type, actor_wallet, data_hash, tx_hash, block_number,
			"timestamp", seq, created_at
		FROM batch_events
		WHERE batch_id=$1
		ORDER BY seq ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list trace events: %w", err)
	}
	defer rows.Close()

	var out []model.TraceEntry
	for rows.Next() {
		var (
			e           model.TraceEntry
			blockNumber int64
			ts          *time.Time
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.EventType, &e.ActorWallet, &e.DataHash, &e.TxHash,
			&blockNumber, &ts, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		e.BlockNumber = uint64(blockNumber)
		e.Timestamp = ts
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortTraceEntries(out)
	return out, nil
}

// MergeBatchMetadata shallow-merges partial into the batch metadata.
func (s *Store) MergeBatchMetadata(ctx context.Context, batchID string, partial map[string]any) error {
	raw, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
			version=version+1, updated_at=now()
		WHERE id=$1
	`, batchID, raw)
	if err != nil {
		return fmt.Errorf("merge batch metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batchID, storage.ErrNotFound)
	}
	return nil
}

// BindBatchCode stores the human-readable code and its hash bound on-chain.
func (s *Store) BindBatchCode(ctx context.Context, batchID, code, codeHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches
		SET batch_code=$2, batch_code_hash=$3, version=version+1, updated_at=now()
		WHERE id=$1
	`, batchID, code, codeHash)
	if err != nil {
		return fmt.Errorf("bind batch code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batchID, storage.ErrNotFound)
	}
	return nil
}
