package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"traceSync/internal/model"
	"traceSync/internal/storage"
)

const selectProductSQL = `
	SELECT id::text, name, onchain_product_id, tx_hash_pending, onchain_synced, created_at, updated_at
	FROM products
`

func (s *Store) FindProductByPendingTxHash(ctx context.Context, txHash string) (*model.Product, error) {
	return s.findProduct(ctx, selectProductSQL+` WHERE lower(tx_hash_pending)=lower($1) LIMIT 1`, txHash)
}

func (s *Store) FindProductByOnchainID(ctx context.Context, onchainID string) (*model.Product, error) {
	return s.findProduct(ctx, selectProductSQL+` WHERE onchain_product_id=$1`, onchainID)
}

func (s *Store) findProduct(ctx context.Context, query string, args ...any) (*model.Product, error) {
	var p model.Product
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Name, &p.OnchainProductID, &p.TxHashPending, &p.OnchainSynced, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}

// InsertProduct creates a product row.
func (s *Store) InsertProduct(ctx context.Context, p model.Product) (model.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, onchain_product_id, tx_hash_pending, onchain_synced)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.OnchainProductID, p.TxHashPending, p.OnchainSynced).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (s *Store) MarkProductSynced(ctx context.Context, productID, onchainID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET onchain_product_id=$2, tx_hash_pending=NULL, onchain_synced=true, updated_at=now()
		WHERE id=$1
	`, productID, onchainID)
	if err != nil {
		return fmt.Errorf("mark product synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, storage.ErrNotFound)
	}
	return nil
}
