package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"traceSync/internal/model"
)

func (s *Store) SaveCommitment(ctx context.Context, c model.MerkleCommitment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CommitmentPending
	}
	leaves, err := json.Marshal(c.Leaves)
	if err != nil {
		return fmt.Errorf("marshal leaves: %w", err)
	}
	var block *int64
	if c.BlockNumber != nil {
		b := int64(*c.BlockNumber)
		block = &b
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO merkle_commitments (id, batch_id, root_hash, leaves, from_event_id, to_event_id,
			tx_hash, block_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.BatchID, c.RootHash, leaves, c.FromEventID, c.ToEventID, c.TxHash, block, string(c.Status))
	if err != nil {
		return fmt.Errorf("save commitment: %w", err)
	}
	return nil
}

// ConfirmCommitment marks the commitment submitted in txHash as confirmed.
// It reports false when no pending commitment matches.
func (s *Store) ConfirmCommitment(ctx context.Context, txHash string, blockNumber uint64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE merkle_commitments
		SET status='CONFIRMED', block_number=$2
		WHERE lower(tx_hash)=lower($1) AND status <> 'CONFIRMED'
	`, txHash, int64(blockNumber))
	if err != nil {
		return false, fmt.Errorf("confirm commitment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) LatestCommitment(ctx context.Context, batchID string) (*model.MerkleCommitment, error) {
	var (
		c      model.MerkleCommitment
		leaves []byte
		block  *int64
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, batch_id::text, root_hash, leaves, from_event_id, to_event_id, tx_hash,
			block_number, status, created_at
		FROM merkle_commitments
		WHERE batch_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, batchID).Scan(&c.ID, &c.BatchID, &c.RootHash, &leaves, &c.FromEventID, &c.ToEventID, &c.TxHash,
		&block, &status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest commitment: %w", err)
	}
	if err := json.Unmarshal(leaves, &c.Leaves); err != nil {
		return nil, fmt.Errorf("decode leaves: %w", err)
	}
	if block != nil {
		b := uint64(*block)
		c.BlockNumber = &b
	}
	c.Status = model.CommitmentStatus(status)
	return &c, nil
}
