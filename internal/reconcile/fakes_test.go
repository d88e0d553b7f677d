package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"traceSync/internal/model"
	"traceSync/internal/storage"
)

type memRepos struct {
	mu          sync.Mutex
	batches     map[string]*model.Batch
	products    map[string]*model.Product
	traces      map[string][]model.TraceEntry
	commitments []model.MerkleCommitment
	failWrites  error
}

func newMemRepos() *memRepos {
	return &memRepos{
		batches:  make(map[string]*model.Batch),
		products: make(map[string]*model.Product),
		traces:   make(map[string][]model.TraceEntry),
	}
}

func (m *memRepos) repositories() Repositories {
	return Repositories{Batches: m, Products: m, Commitments: m}
}

func strPtr(s string) *string { return &s }

func copyBatch(b *model.Batch) *model.Batch {
	out := *b
	out.Metadata = make(map[string]any, len(b.Metadata))
	for k, v := range b.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func (m *memRepos) FindBatchByID(_ context.Context, id string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return copyBatch(b), nil
	}
	return nil, nil
}

func (m *memRepos) FindBatchByCode(_ context.Context, code string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.BatchCode == code {
			return copyBatch(b), nil
		}
	}
	return nil, nil
}

func (m *memRepos) FindBatchByPendingTxHash(_ context.Context, txHash string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.TxHashPending != nil && strings.EqualFold(*b.TxHashPending, txHash) {
			return copyBatch(b), nil
		}
	}
	return nil, nil
}

func (m *memRepos) FindBatchByOnchainID(_ context.Context, onchainID string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.OnchainBatchID != nil && *b.OnchainBatchID == onchainID {
			return copyBatch(b), nil
		}
	}
	return nil, nil
}

func (m *memRepos) MarkBatchSynced(_ context.Context, batchID, onchainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	b, ok := m.batches[batchID]
	if !ok {
		return storage.ErrNotFound
	}
	b.OnchainBatchID = strPtr(onchainID)
	b.TxHashPending = nil
	b.OnchainSynced = true
	b.Version++
	return nil
}

func (m *memRepos) AppendTraceEvent(_ context.Context, batchID string, entry model.TraceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	for _, existing := range m.traces[batchID] {
		if existing.TxHash == entry.TxHash && existing.EventType == entry.EventType {
			return nil
		}
	}
	entry.Seq = int64(len(m.traces[batchID]) + 1)
	m.traces[batchID] = append(m.traces[batchID], entry)
	return nil
}

func (m *memRepos) ListTraceEvents(_ context.Context, batchID string) ([]model.TraceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.TraceEntry(nil), m.traces[batchID]...)
	model.SortTraceEntries(out)
	return out, nil
}

func (m *memRepos) MergeBatchMetadata(_ context.Context, batchID string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	b, ok := m.batches[batchID]
	if !ok {
		return storage.ErrNotFound
	}
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	for k, v := range partial {
		b.Metadata[k] = v
	}
	return nil
}

func (m *memRepos) BindBatchCode(_ context.Context, batchID, code, codeHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return storage.ErrNotFound
	}
	b.BatchCode = code
	b.BatchCodeHash = strPtr(codeHash)
	return nil
}

func (m *memRepos) FindProductByPendingTxHash(_ context.Context, txHash string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.TxHashPending != nil && strings.EqualFold(*p.TxHashPending, txHash) {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memRepos) FindProductByOnchainID(_ context.Context, onchainID string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.OnchainProductID != nil && *p.OnchainProductID == onchainID {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memRepos) MarkProductSynced(_ context.Context, productID, onchainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return storage.ErrNotFound
	}
	p.OnchainProductID = strPtr(onchainID)
	p.TxHashPending = nil
	p.OnchainSynced = true
	return nil
}

func (m *memRepos) SaveCommitment(_ context.Context, c model.MerkleCommitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments = append(m.commitments, c)
	return nil
}

func (m *memRepos) ConfirmCommitment(_ context.Context, txHash string, blockNumber uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.commitments {
		c := &m.commitments[i]
		if c.TxHash != nil && strings.EqualFold(*c.TxHash, txHash) && c.Status != model.CommitmentConfirmed {
			c.Status = model.CommitmentConfirmed
			c.BlockNumber = &blockNumber
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepos) LatestCommitment(_ context.Context, batchID string) (*model.MerkleCommitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.commitments) - 1; i >= 0; i-- {
		if m.commitments[i].BatchID == batchID {
			out := m.commitments[i]
			return &out, nil
		}
	}
	return nil, nil
}

var errStoreDown = errors.New("store unavailable")
