package model

import (
	"sort"
	"time"
)

// Batch status values.
const (
	BatchStatusPending   = "pending"
	BatchStatusHarvested = "HARVESTED"
)

// Metadata keys written by reconciliation.
const (
	MetaMerkleRoot = "merkle_root"
	MetaTxHash     = "tx_hash"
)

// Batch is the off-chain batch aggregate.
type Batch struct {
	ID             string         `json:"id"`
	BatchCode      string         `json:"batch_code"`
	BatchCodeHash  *string        `json:"batch_code_hash,omitempty"`
	OnchainBatchID *string        `json:"onchain_batch_id,omitempty"`
	ProductID      *string        `json:"product_id,omitempty"`
	Status         string         `json:"status"`
	Closed         bool           `json:"closed"`
	TxHashPending  *string        `json:"tx_hash_pending,omitempty"`
	OnchainSynced  bool           `json:"onchain_synced"`
	Metadata       map[string]any `json:"metadata"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MerkleRoot returns the committed root recorded in metadata.
func (b Batch) MerkleRoot() string {
	if b.Metadata == nil {
		return ""
	}
	root, _ := b.Metadata[MetaMerkleRoot].(string)
	return root
}

// BaseLeafPayload is the canonical payload for the batch's base state leaf.
func (b Batch) BaseLeafPayload() map[string]any {
	payload := map[string]any{
		"batch_code":       b.BatchCode,
		"onchain_batch_id": b.OnchainBatchID,
		"product_id":       b.ProductID,
		"created_at":       b.CreatedAt,
	}
	if b.Metadata != nil {
		if hash, ok := b.Metadata["initial_data_hash"]; ok {
			payload["initial_data_hash"] = hash
		}
		if uri, ok := b.Metadata["metadata_uri"]; ok {
			payload["metadata_uri"] = uri
		}
	}
	return payload
}

// TraceEventTypes maps the on-chain trace event code to its name.
var TraceEventTypes = map[int64]string{
	0: "CREATED",
	1: "PROCESSED",
	2: "SHIPPED",
	3: "RECEIVED",
	4: "STORED",
	5: "SOLD",
	6: "RECALLED",
}

// TraceEntry is an immutable trace-history row attached to a batch.
type TraceEntry struct {
	ID          string     `json:"id"`
	BatchID     string     `json:"batch_id"`
	EventType   string     `json:"event_type"`
	ActorWallet string     `json:"actor_wallet"`
	DataHash    string     `json:"data_hash"`
	TxHash      string     `json:"tx_hash"`
	BlockNumber uint64     `json:"block_number"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Seq         int64      `json:"seq"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (e TraceEntry) sortTime() time.Time {
	if e.Timestamp != nil {
		return *e.Timestamp
	}
	return e.CreatedAt
}

// SortTraceEntries orders entries for display: event timestamp when present,
// else creation time, ascending. Ties keep arrival order (Seq).
func SortTraceEntries(entries []TraceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].sortTime(), entries[j].sortTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].Seq < entries[j].Seq
	})
}
