package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"traceSync/internal/model"
)

// Store is an embedded cursor and event store for single-node deployments.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes a SQLite database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS block_cursors (
  stream_name TEXT PRIMARY KEY,
  next_block  INTEGER NOT NULL,
  updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS onchain_events (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  event_name       TEXT NOT NULL,
  args             TEXT NOT NULL,
  tx_hash          TEXT NOT NULL,
  block_number     INTEGER NOT NULL,
  contract_address TEXT NOT NULL,
  block_timestamp  TEXT,
  aggregate_key    TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL DEFAULT 'PENDING',
  note             TEXT NOT NULL DEFAULT '',
  created_at       TEXT NOT NULL,
  updated_at       TEXT NOT NULL,
  UNIQUE (tx_hash, event_name)
);
CREATE INDEX IF NOT EXISTS idx_onchain_events_name ON onchain_events (event_name);
CREATE INDEX IF NOT EXISTS idx_onchain_events_block ON onchain_events (block_number);
CREATE INDEX IF NOT EXISTS idx_onchain_events_aggregate ON onchain_events (aggregate_key);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// GetCursor returns the next block to scan for a stream.
func (s *Store) GetCursor(ctx context.Context, stream string) (uint64, bool, error) {
	var next int64
	row := s.db.QueryRowContext(ctx, `SELECT next_block FROM block_cursors WHERE stream_name = ?;`, stream)
	switch err := row.Scan(&next); {
	case err == nil:
		return uint64(next), true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
}

// SetCursor upserts the next block to scan for a stream.
func (s *Store) SetCursor(ctx context.Context, stream string, nextBlock uint64) error {
	if stream == "" {
		return errors.New("stream name required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO block_cursors (stream_name, next_block, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(stream_name) DO UPDATE SET
  next_block=excluded.next_block,
  updated_at=excluded.updated_at;
`, stream, int64(nextBlock), s.stamp())
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// UpsertEvents writes all events in one transaction, keyed by
// (tx_hash, event_name). CONFIRMED rows keep their status.
func (s *Store) UpsertEvents(ctx context.Context, events []model.PersistedEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO onchain_events (
  event_name, args, tx_hash, block_number, contract_address, block_timestamp,
  aggregate_key, status, note, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tx_hash, event_name) DO UPDATE SET
  args=excluded.args,
  block_number=excluded.block_number,
  contract_address=excluded.contract_address,
  block_timestamp=COALESCE(excluded.block_timestamp, onchain_events.block_timestamp),
  aggregate_key=excluded.aggregate_key,
  status=CASE WHEN onchain_events.status = 'CONFIRMED' THEN onchain_events.status ELSE excluded.status END,
  note=CASE WHEN onchain_events.status = 'CONFIRMED' THEN onchain_events.note ELSE excluded.note END,
  updated_at=excluded.updated_at;
`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.stamp()
	for _, ev := range events {
		args, err := json.Marshal(ev.Args)
		if err != nil {
			return fmt.Errorf("marshal args %s/%s: %w", ev.TxHash, ev.EventName, err)
		}
		status := ev.Status
		if !status.Valid() {
			status = model.EventPending
		}
		var blockTime any
		if ev.BlockTimestamp != nil {
			blockTime = ev.BlockTimestamp.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.EventName, string(args), ev.TxHash, int64(ev.BlockNumber), ev.ContractAddress, blockTime,
			ev.AggregateKey, string(status), ev.Note, now, now,
		); err != nil {
			return fmt.Errorf("upsert event %s/%s: %w", ev.TxHash, ev.EventName, err)
		}
	}
	return tx.Commit()
}

const selectEventSQL = `
SELECT id, event_name, args, tx_hash, block_number, contract_address, block_timestamp,
  aggregate_key, status, note, created_at, updated_at
FROM onchain_events
`

func (s *Store) FindByEventName(ctx context.Context, eventName string) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE event_name = ? ORDER BY block_number DESC, id DESC;`, eventName)
}

func (s *Store) FindByRelatedAggregate(ctx context.Context, aggregateKey string) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE aggregate_key = ? ORDER BY id ASC;`, aggregateKey)
}

// ListEvents pages through all events by id.
func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]model.PersistedEvent, error) {
	return s.queryEvents(ctx, selectEventSQL+` WHERE id > ? ORDER BY id ASC LIMIT ?;`, afterID, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.PersistedEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.PersistedEvent
	for rows.Next() {
		var (
			ev                   model.PersistedEvent
			rawArgs              string
			blockNumber          int64
			blockTime            sql.NullString
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.EventName, &rawArgs, &ev.TxHash, &blockNumber, &ev.ContractAddress,
			&blockTime, &ev.AggregateKey, &status, &ev.Note, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(rawArgs)))
		dec.UseNumber()
		if err := dec.Decode(&ev.Args); err != nil {
			return nil, fmt.Errorf("decode args for event %d: %w", ev.ID, err)
		}
		ev.BlockNumber = uint64(blockNumber)
		ev.Status = model.EventStatus(status)
		if blockTime.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, blockTime.String); err == nil {
				ev.BlockTimestamp = &ts
			}
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}
