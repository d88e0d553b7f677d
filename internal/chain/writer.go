package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"traceSync/internal/contract"
)

const defaultTxTimeout = 2 * time.Minute

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
}

// Writer submits registry transactions signed by the committer key.
type Writer struct {
	client    *Client
	bound     *bind.BoundContract
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	txTimeout time.Duration
}

// NewWriter builds a Writer from a hex-encoded private key.
func NewWriter(ctx context.Context, client *Client, hexKey string, txTimeout time.Duration) (*Writer, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse committer key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	registryABI, err := contract.RegistryABI()
	if err != nil {
		return nil, err
	}
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}

	backend := client.Backend()
	return &Writer{
		client:    client,
		bound:     bind.NewBoundContract(client.Contract(), registryABI, backend, backend, backend),
		key:       key,
		chainID:   chainID,
		txTimeout: txTimeout,
	}, nil
}

// Address returns the committer address.
func (w *Writer) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// Paused reports whether the registry is paused.
func (w *Writer) Paused(ctx context.Context) (bool, error) {
	return w.client.Paused(ctx)
}

// CommitMerkleRoot submits commitBatchMerkleRoot and waits for the receipt.
// A revert, at estimation or in the receipt, wraps ErrReverted.
func (w *Writer) CommitMerkleRoot(ctx context.Context, onchainBatchID string, root common.Hash, fromEventID, toEventID int64) (Receipt, error) {
	id, ok := new(big.Int).SetString(onchainBatchID, 10)
	if !ok {
		return Receipt{}, fmt.Errorf("invalid onchain batch id %q", onchainBatchID)
	}

	ctx, cancel := context.WithTimeout(ctx, w.txTimeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return Receipt{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := w.bound.Transact(opts, "commitBatchMerkleRoot", id, [32]byte(root), big.NewInt(fromEventID), big.NewInt(toEventID))
	if err != nil {
		return Receipt{}, wrapTx("send commitBatchMerkleRoot", err)
	}

	receipt, err := bind.WaitMined(ctx, w.client.Backend(), tx)
	if err != nil {
		return Receipt{}, wrapRPC("wait commitBatchMerkleRoot", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("commitBatchMerkleRoot tx %s: %w", tx.Hash().Hex(), ErrReverted)
	}

	return Receipt{TxHash: tx.Hash().Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}
