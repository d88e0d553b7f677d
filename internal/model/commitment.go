package model

import "time"

// CommitmentStatus tracks a Merkle commitment from submission to on-chain
// confirmation.
type CommitmentStatus string

const (
	CommitmentPending   CommitmentStatus = "PENDING"
	CommitmentConfirmed CommitmentStatus = "CONFIRMED"
)

// MerkleCommitment records a root built from an ordered leaf list.
type MerkleCommitment struct {
	ID          string           `json:"id"`
	BatchID     string           `json:"batch_id"`
	RootHash    string           `json:"root_hash"`
	Leaves      []string         `json:"leaves"`
	FromEventID int64            `json:"from_event_id"`
	ToEventID   int64            `json:"to_event_id"`
	TxHash      *string          `json:"tx_hash,omitempty"`
	BlockNumber *uint64          `json:"block_number,omitempty"`
	Status      CommitmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}
