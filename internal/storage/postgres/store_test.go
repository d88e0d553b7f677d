package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"traceSync/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TRACESYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TRACESYNC_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestCursorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	stream := "crawl:test-" + uuid.NewString()

	_, ok, err := store.GetCursor(ctx, stream)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetCursor(ctx, stream, 120))
	require.NoError(t, store.SetCursor(ctx, stream, 140))

	next, ok, err := store.GetCursor(ctx, stream)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(140), next)
}

func TestUpsertEventsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	txHash := "0x" + uuid.NewString()
	key := model.BatchAggregateKey(uuid.NewString())

	ev := model.PersistedEvent{
		EventName:    "BatchCreated",
		Args:         map[string]any{"batchId": "18446744073709551617"},
		TxHash:       txHash,
		BlockNumber:  10,
		AggregateKey: key,
		Status:       model.EventPending,
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpsertEvents(ctx, []model.PersistedEvent{ev}))
	}
	ev.Args = map[string]any{"batchId": "18446744073709551617", "productId": "3"}
	ev.Status = model.EventConfirmed
	require.NoError(t, store.UpsertEvents(ctx, []model.PersistedEvent{ev}))

	// A later replay must not downgrade the confirmed row.
	ev.Status = model.EventPending
	require.NoError(t, store.UpsertEvents(ctx, []model.PersistedEvent{ev}))

	rows, err := store.FindByRelatedAggregate(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "3", rows[0].Args["productId"])
	require.Equal(t, "18446744073709551617", rows[0].Args["batchId"])
	require.Equal(t, model.EventConfirmed, rows[0].Status)
}

func TestBatchLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pending := "0x" + uuid.NewString()

	batch, err := store.InsertBatch(ctx, model.Batch{
		BatchCode:     "B-" + uuid.NewString(),
		TxHashPending: &pending,
		Metadata:      map[string]any{"origin": "farm-7"},
	})
	require.NoError(t, err)

	found, err := store.FindBatchByPendingTxHash(ctx, pending)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, batch.ID, found.ID)

	onchainID := uuid.NewString()
	require.NoError(t, store.MarkBatchSynced(ctx, batch.ID, onchainID))
	require.NoError(t, store.MergeBatchMetadata(ctx, batch.ID, map[string]any{
		model.MetaMerkleRoot: "0xabc",
		model.MetaTxHash:     "0xdef",
	}))

	synced, err := store.FindBatchByOnchainID(ctx, onchainID)
	require.NoError(t, err)
	require.NotNil(t, synced)
	require.True(t, synced.OnchainSynced)
	require.Nil(t, synced.TxHashPending)
	require.Equal(t, "farm-7", synced.Metadata["origin"])
	require.Equal(t, "0xabc", synced.MerkleRoot())

	entry := model.TraceEntry{EventType: "SHIPPED", ActorWallet: "0x01", TxHash: "0x" + uuid.NewString(), BlockNumber: 12}
	require.NoError(t, store.AppendTraceEvent(ctx, batch.ID, entry))
	require.NoError(t, store.AppendTraceEvent(ctx, batch.ID, entry))

	entries, err := store.ListTraceEvents(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "SHIPPED", entries[0].EventType)

	missing, err := store.FindBatchByPendingTxHash(ctx, "0xnope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCommitmentConfirm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch, err := store.InsertBatch(ctx, model.Batch{BatchCode: "B-" + uuid.NewString()})
	require.NoError(t, err)

	txHash := "0x" + uuid.NewString()
	require.NoError(t, store.SaveCommitment(ctx, model.MerkleCommitment{
		BatchID:     batch.ID,
		RootHash:    "0xroot",
		Leaves:      []string{"0x01", "0x02"},
		FromEventID: 1,
		ToEventID:   2,
		TxHash:      &txHash,
	}))

	ok, err := store.ConfirmCommitment(ctx, txHash, 99)
	require.NoError(t, err)
	require.True(t, ok)

	latest, err := store.LatestCommitment(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, model.CommitmentConfirmed, latest.Status)
	require.Equal(t, []string{"0x01", "0x02"}, latest.Leaves)
	require.Equal(t, uint64(99), *latest.BlockNumber)
}
