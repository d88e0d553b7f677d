package model

import "time"

// Product is the off-chain product aggregate.
type Product struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OnchainProductID *string   `json:"onchain_product_id,omitempty"`
	TxHashPending    *string   `json:"tx_hash_pending,omitempty"`
	OnchainSynced    bool      `json:"onchain_synced"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
