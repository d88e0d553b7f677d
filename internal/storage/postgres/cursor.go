package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCursor returns the next block to scan for a stream.
func (s *Store) GetCursor(ctx context.Context, stream string) (uint64, bool, error) {
	if stream == "" {
		return 0, false, fmt.Errorf("stream name required")
	}
	var next int64
	row := s.pool.QueryRow(ctx, `SELECT next_block FROM block_cursors WHERE stream_name=$1`, stream)
	if err := row.Scan(&next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(next), true, nil
}

// SetCursor upserts the next block to scan for a stream.
func (s *Store) SetCursor(ctx context.Context, stream string, nextBlock uint64) error {
	if stream == "" {
		return fmt.Errorf("stream name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO block_cursors (stream_name, next_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_name) DO UPDATE
		SET next_block = EXCLUDED.next_block, updated_at = now()
	`, stream, int64(nextBlock))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
