package commit

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"traceSync/internal/merkle"
	"traceSync/internal/storage"
)

// Status is the public verification verdict.
type Status string

const (
	StatusVerified  Status = "VERIFIED"
	StatusMismatch  Status = "MISMATCH"
	StatusNotSynced Status = "NOT_SYNCED"
)

// RootReader reads committed roots from the registry.
type RootReader interface {
	BatchRoot(ctx context.Context, onchainBatchID string) (common.Hash, bool, error)
}

// Verification is the read-only comparison of local and on-chain roots.
type Verification struct {
	Status         Status `json:"status"`
	BatchCode      string `json:"batch_code"`
	OnchainBatchID string `json:"onchain_batch_id,omitempty"`
	LocalRoot      string `json:"local_root,omitempty"`
	ChainRoot      string `json:"chain_root,omitempty"`
}

// Verifier answers whether a batch's stored root matches the chain.
type Verifier struct {
	batches     storage.BatchRepository
	commitments storage.CommitmentRepository
	chain       RootReader
}

func NewVerifier(batches storage.BatchRepository, commitments storage.CommitmentRepository, chain RootReader) *Verifier {
	return &Verifier{batches: batches, commitments: commitments, chain: chain}
}

// Verify never mutates state. NOT_SYNCED means either side has not caught
// up yet; MISMATCH means both have a root and they differ.
func (v *Verifier) Verify(ctx context.Context, batchCode string) (Verification, error) {
	out := Verification{BatchCode: batchCode, Status: StatusNotSynced}

	batch, err := v.batches.FindBatchByCode(ctx, batchCode)
	if err != nil {
		return out, err
	}
	if batch == nil {
		return out, fmt.Errorf("batch %q: %w", batchCode, storage.ErrNotFound)
	}
	if batch.OnchainBatchID == nil || !batch.OnchainSynced {
		return out, nil
	}
	out.OnchainBatchID = *batch.OnchainBatchID
	out.LocalRoot = batch.MerkleRoot()

	chainRoot, exists, err := v.chain.BatchRoot(ctx, out.OnchainBatchID)
	if err != nil {
		return out, fmt.Errorf("read chain root: %w", err)
	}
	if exists && chainRoot != (common.Hash{}) {
		out.ChainRoot = chainRoot.Hex()
	}
	if out.LocalRoot == "" || out.ChainRoot == "" {
		return out, nil
	}

	if strings.EqualFold(out.LocalRoot, out.ChainRoot) {
		out.Status = StatusVerified
	} else {
		out.Status = StatusMismatch
	}
	return out, nil
}

// CheckLeaves re-derives the root of the latest recorded commitment of a
// batch from its stored leaves.
func (v *Verifier) CheckLeaves(ctx context.Context, batchID string) (bool, error) {
	if v.commitments == nil {
		return false, fmt.Errorf("no commitment repository")
	}
	c, err := v.commitments.LatestCommitment(ctx, batchID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, fmt.Errorf("batch %s commitment: %w", batchID, storage.ErrNotFound)
	}
	leaves, err := merkle.ParseLeaves(c.Leaves)
	if err != nil {
		return false, err
	}
	root, err := merkle.BuildRoot(leaves)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(root.Hex(), c.RootHash), nil
}
