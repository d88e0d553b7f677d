package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"traceSync/internal/model"
)

const upsertEventSQL = `
	INSERT INTO onchain_events (
		event_name, args, tx_hash, block_number, contract_address, block_timestamp,
		aggregate_key, status, note, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	ON CONFLICT (tx_hash, event_name)
	DO UPDATE SET
		args = EXCLUDED.args,
		block_number = EXCLUDED.block_number,
		contract_address = EXCLUDED.contract_address,
		block_timestamp = COALESCE(EXCLUDED.block_timestamp, onchain_events.block_timestamp),
		aggregate_key = EXCLUDED.aggregate_key,
		status = CASE WHEN onchain_events.status = 'CONFIRMED' THEN onchain_events.status ELSE EXCLUDED.status END,
		note = CASE WHEN onchain_events.status = 'CONFIRMED' THEN onchain_events.note ELSE EXCLUDED.note END,
		updated_at = now()
`

const selectEventSQL = `
	SELECT id, event_name, args, tx_hash, block_number, contract_address, block_timestamp,
		aggregate_key, status, note, created_at, updated_at
	FROM onchain_events
`

// UpsertEvents writes events in one transaction. A row that already reached
// CONFIRMED keeps its status on replay.
func (s *Store) UpsertEvents(ctx context.Context, events []model.PersistedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		args, err := json.Marshal(ev.Args)
		if err != nil {
			return fmt.Errorf("marshal args %s/%s: %w", ev.TxHash, ev.EventName, err)
		}
		status := ev.Status
		if !status.Valid() {
			status = model.EventPending
		}
		batch.Queue(upsertEventSQL,
			ev.EventName,
			args,
			ev.TxHash,
			int64(ev.BlockNumber),
			ev.ContractAddress,
			ev.BlockTimestamp,
			ev.AggregateKey,
			string(status),
			ev.Note,
		)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range events {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert events: %w", err)
			}
		}
		return br.Close()
	})
}

// FindByEventName returns events of one type, newest block first.
func (s *Store) FindByEventName(ctx context.Context, eventName string) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE event_name=$1 ORDER BY block_number DESC, id DESC`, eventName)
}

// FindByRelatedAggregate returns the audit timeline of an aggregate in
// insertion order.
func (s *Store) FindByRelatedAggregate(ctx context.Context, aggregateKey string) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE aggregate_key=$1 ORDER BY id ASC`, aggregateKey)
}

// ListEvents pages through all events by id.
func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.PersistedEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.PersistedEvent
	for rows.Next() {
		var (
			ev          model.PersistedEvent
			rawArgs     []byte
			blockNumber int64
			blockTime   *time.Time
			status      string
		)
		if err := rows.Scan(
			&ev.ID, &ev.EventName, &rawArgs, &ev.TxHash, &blockNumber, &ev.ContractAddress, &blockTime,
			&ev.AggregateKey, &status, &ev.Note, &ev.CreatedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		args, err := decodeObject(rawArgs)
		if err != nil {
			return nil, fmt.Errorf("decode args for event %d: %w", ev.ID, err)
		}
		ev.Args = args
		ev.BlockNumber = uint64(blockNumber)
		ev.BlockTimestamp = blockTime
		ev.Status = model.EventStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}
