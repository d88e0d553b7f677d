package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"traceSync/internal/contract"
)

// BatchRoot reads the Merkle root stored on-chain for a batch. exists is
// false when the contract has no such batch.
func (c *Client) BatchRoot(ctx context.Context, onchainBatchID string) (root common.Hash, exists bool, err error) {
	id, ok := new(big.Int).SetString(onchainBatchID, 10)
	if !ok {
		return common.Hash{}, false, fmt.Errorf("invalid onchain batch id %q", onchainBatchID)
	}
	registryABI, err := contract.RegistryABI()
	if err != nil {
		return common.Hash{}, false, err
	}

	input, err := registryABI.Pack("batches", id)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("pack batches: %w", err)
	}
	output, err := c.CallContract(ctx, input, nil)
	if err != nil {
		return common.Hash{}, false, err
	}

	values, err := registryABI.Unpack("batches", output)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("unpack batches: %w", err)
	}
	if len(values) != 4 {
		return common.Hash{}, false, fmt.Errorf("unexpected batches values: %d", len(values))
	}
	rootBytes, ok := values[2].([32]byte)
	if !ok {
		return common.Hash{}, false, fmt.Errorf("unexpected root type %T", values[2])
	}
	exists, _ = values[3].(bool)
	return common.Hash(rootBytes), exists, nil
}

// Paused reports whether the registry is paused.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	registryABI, err := contract.RegistryABI()
	if err != nil {
		return false, err
	}
	input, err := registryABI.Pack("paused")
	if err != nil {
		return false, fmt.Errorf("pack paused: %w", err)
	}
	output, err := c.CallContract(ctx, input, nil)
	if err != nil {
		return false, err
	}
	values, err := registryABI.Unpack("paused", output)
	if err != nil {
		return false, fmt.Errorf("unpack paused: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected paused values: %d", len(values))
	}
	paused, _ := values[0].(bool)
	return paused, nil
}
