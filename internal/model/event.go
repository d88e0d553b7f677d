package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventStatus is the reconciliation state of a persisted event.
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventConfirmed EventStatus = "CONFIRMED"
	EventFailed    EventStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventConfirmed, EventFailed:
		return true
	default:
		return false
	}
}

// DecodedEvent is a contract log mapped to a named event with typed args.
// Integers wider than 32 bits are carried as decimal strings.
type DecodedEvent struct {
	EventName       string         `json:"event_name"`
	Args            map[string]any `json:"args"`
	TxHash          string         `json:"tx_hash"`
	LogIndex        uint64         `json:"log_index"`
	BlockNumber     uint64         `json:"block_number"`
	ContractAddress string         `json:"contract_address"`
	BlockTimestamp  *time.Time     `json:"block_timestamp,omitempty"`
}

// StringArg returns a string argument and whether it is present and non-empty.
func (e DecodedEvent) StringArg(name string) (string, bool) {
	raw, ok := e.Args[name]
	if !ok || raw == nil {
		return "", false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	return s, s != ""
}

// IntArg returns a small integer argument.
func (e DecodedEvent) IntArg(name string) (int64, bool) {
	switch v := e.Args[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// AggregateKey returns the key of the off-chain aggregate the event relates
// to, or "" if none.
func (e DecodedEvent) AggregateKey() string {
	if id, ok := e.StringArg("batchId"); ok {
		return BatchAggregateKey(id)
	}
	if id, ok := e.StringArg("productId"); ok {
		return ProductAggregateKey(id)
	}
	return ""
}

// BatchAggregateKey is the related-aggregate key for an on-chain batch id.
func BatchAggregateKey(onchainBatchID string) string {
	return "batch:" + onchainBatchID
}

// ProductAggregateKey is the related-aggregate key for an on-chain product id.
func ProductAggregateKey(onchainProductID string) string {
	return "product:" + onchainProductID
}

// PersistedEvent is an Event Store row, unique on (TxHash, EventName).
type PersistedEvent struct {
	ID              int64          `json:"id"`
	EventName       string         `json:"event_name"`
	Args            map[string]any `json:"args"`
	TxHash          string         `json:"tx_hash"`
	BlockNumber     uint64         `json:"block_number"`
	ContractAddress string         `json:"contract_address"`
	BlockTimestamp  *time.Time     `json:"block_timestamp,omitempty"`
	AggregateKey    string         `json:"aggregate_key,omitempty"`
	Status          EventStatus    `json:"status"`
	Note            string         `json:"note,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewPersistedEvent builds the row written for a decoded event.
func NewPersistedEvent(ev DecodedEvent, status EventStatus, note string) PersistedEvent {
	return PersistedEvent{
		EventName:       ev.EventName,
		Args:            ev.Args,
		TxHash:          ev.TxHash,
		BlockNumber:     ev.BlockNumber,
		ContractAddress: ev.ContractAddress,
		BlockTimestamp:  ev.BlockTimestamp,
		AggregateKey:    ev.AggregateKey(),
		Status:          status,
		Note:            note,
	}
}

// Decoded rebuilds the decoded event a stored row was written from, for
// replaying it through reconciliation.
func (e PersistedEvent) Decoded() DecodedEvent {
	return DecodedEvent{
		EventName:       e.EventName,
		Args:            e.Args,
		TxHash:          e.TxHash,
		BlockNumber:     e.BlockNumber,
		ContractAddress: e.ContractAddress,
		BlockTimestamp:  e.BlockTimestamp,
	}
}

// LeafPayload is the canonical payload hashed into a Merkle leaf for the event.
func (e PersistedEvent) LeafPayload() map[string]any {
	return map[string]any{
		"id":           e.ID,
		"event_name":   e.EventName,
		"tx_hash":      e.TxHash,
		"block_number": e.BlockNumber,
		"args":         e.Args,
	}
}
