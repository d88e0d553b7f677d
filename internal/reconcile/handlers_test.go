package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"traceSync/internal/contract"
	"traceSync/internal/model"
)

func newTestRouter(t *testing.T, repos *memRepos) (*Router, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewRegistryRouter(repos.repositories(), zap.New(core)), logs
}

func event(name, txHash string, args map[string]any) model.DecodedEvent {
	return model.DecodedEvent{EventName: name, TxHash: txHash, BlockNumber: 42, Args: args}
}

func TestBatchCreatedSyncsPendingBatch(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{ID: "b1", BatchCode: "LOT-1", TxHashPending: strPtr("0xAA")}
	router, _ := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventBatchCreated, "0xaa", map[string]any{"batchId": "18446744073709551617"}))
	require.Equal(t, Applied, res.Outcome)
	require.Equal(t, model.EventConfirmed, res.Status(false))

	b := repos.batches["b1"]
	require.True(t, b.OnchainSynced)
	require.Nil(t, b.TxHashPending)
	require.Equal(t, "18446744073709551617", *b.OnchainBatchID)

	// Replays are no-ops.
	res = router.Route(context.Background(), event(contract.EventBatchCreated, "0xaa", map[string]any{"batchId": "18446744073709551617"}))
	require.Equal(t, Applied, res.Outcome)
	require.Equal(t, int64(1), repos.batches["b1"].Version)
}

func TestBatchCreatedBeforeLocalBatchWarnsWithoutCreating(t *testing.T) {
	repos := newMemRepos()
	router, logs := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventBatchCreated, "0xbb", map[string]any{"batchId": "9"}))
	require.Equal(t, Skipped, res.Outcome)
	var mismatch *MismatchError
	require.ErrorAs(t, res.Err, &mismatch)
	require.Empty(t, repos.batches)
	require.Equal(t, model.EventConfirmed, res.Status(false))

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("reconciliation mismatch")
	require.Equal(t, 1, warnings.Len())
	require.Equal(t, "0xbb", warnings.All()[0].ContextMap()["tx_hash"])
}

func TestMissingArgumentIsSkipped(t *testing.T) {
	repos := newMemRepos()
	router, logs := newTestRouter(t, repos)

	for _, name := range []string{
		contract.EventProductCreated,
		contract.EventBatchCreated,
		contract.EventTraceEventRecorded,
		contract.EventBatchMerkleRootCommitted,
		contract.EventBatchCodeBound,
	} {
		res := router.Route(context.Background(), event(name, "0x01", map[string]any{}))
		require.Equal(t, Skipped, res.Outcome, name)
		require.ErrorIs(t, res.Err, ErrMissingArgument, name)
	}
	require.Equal(t, 5, logs.FilterMessage("event missing required argument").Len())
}

func TestUnknownEventIsIgnoredAtDebug(t *testing.T) {
	router, logs := newTestRouter(t, newMemRepos())

	res := router.Route(context.Background(), event("RoleGranted", "0x02", nil))
	require.Equal(t, Ignored, res.Outcome)
	require.Equal(t, model.EventConfirmed, res.Status(true))
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).FilterMessage("no handler for event").Len())
}

func TestTransientFailureIsRetried(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{ID: "b1", TxHashPending: strPtr("0xcc")}
	repos.failWrites = errStoreDown
	router, _ := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventBatchCreated, "0xcc", map[string]any{"batchId": "1"}))
	require.Equal(t, Failed, res.Outcome)
	require.True(t, errors.Is(res.Err, errStoreDown))
	require.Equal(t, model.EventPending, res.Status(false))
	require.Equal(t, model.EventFailed, res.Status(true))
}

func TestPanicIsClassifiedAsFailure(t *testing.T) {
	router := NewRouter(nil)
	router.Register("Boom", func(context.Context, model.DecodedEvent) error { panic("bad state") })

	res := router.Route(context.Background(), event("Boom", "0x03", nil))
	require.Equal(t, Failed, res.Outcome)
	require.Contains(t, res.Err.Error(), "bad state")
}

func TestProductCreated(t *testing.T) {
	repos := newMemRepos()
	repos.products["p1"] = &model.Product{ID: "p1", Name: "Coffee", TxHashPending: strPtr("0xdd")}
	router, _ := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventProductCreated, "0xdd", map[string]any{"productId": "4"}))
	require.Equal(t, Applied, res.Outcome)
	require.True(t, repos.products["p1"].OnchainSynced)
	require.Equal(t, "4", *repos.products["p1"].OnchainProductID)

	res = router.Route(context.Background(), event(contract.EventProductCreated, "0xee", map[string]any{"productId": "5"}))
	require.Equal(t, Skipped, res.Outcome)
	require.Len(t, repos.products, 1)
}

func TestTraceEventRecordedAppendsOnce(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{ID: "b1", OnchainBatchID: strPtr("7"), OnchainSynced: true}
	router, _ := newTestRouter(t, repos)

	ev := event(contract.EventTraceEventRecorded, "0xff", map[string]any{
		"batchId":   "7",
		"eventType": int64(2),
		"actor":     "0x00000000000000000000000000000000000000a1",
		"dataHash":  "0x1234",
		"timestamp": "1714564800",
	})
	require.Equal(t, Applied, router.Route(context.Background(), ev).Outcome)
	require.Equal(t, Applied, router.Route(context.Background(), ev).Outcome)

	entries := repos.traces["b1"]
	require.Len(t, entries, 1)
	require.Equal(t, "SHIPPED", entries[0].EventType)
	require.Equal(t, uint64(42), entries[0].BlockNumber)
	require.NotNil(t, entries[0].Timestamp)
	require.True(t, entries[0].Timestamp.Equal(time.Unix(1714564800, 0)))
}

func TestMerkleRootCommittedMergesMetadata(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{
		ID:             "b1",
		OnchainBatchID: strPtr("7"),
		OnchainSynced:  true,
		Metadata:       map[string]any{"origin": "farm-7"},
	}
	repos.commitments = []model.MerkleCommitment{{BatchID: "b1", TxHash: strPtr("0xabc"), Status: model.CommitmentPending}}
	router, _ := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventBatchMerkleRootCommitted, "0xABC", map[string]any{
		"batchId":    "7",
		"merkleRoot": "0x99",
	}))
	require.Equal(t, Applied, res.Outcome)

	meta := repos.batches["b1"].Metadata
	require.Equal(t, "farm-7", meta["origin"])
	require.Equal(t, "0x99", meta[model.MetaMerkleRoot])
	require.Equal(t, "0xABC", meta[model.MetaTxHash])
	require.Equal(t, model.CommitmentConfirmed, repos.commitments[0].Status)
	require.Equal(t, uint64(42), *repos.commitments[0].BlockNumber)
}

func TestBatchCodeBound(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{ID: "b1", BatchCode: "draft", OnchainBatchID: strPtr("7"), OnchainSynced: true}
	router, _ := newTestRouter(t, repos)

	res := router.Route(context.Background(), event(contract.EventBatchCodeBound, "0x10", map[string]any{
		"batchId":       "7",
		"batchCode":     "LOT-2024-7",
		"batchCodeHash": "0x77",
	}))
	require.Equal(t, Applied, res.Outcome)
	require.Equal(t, "LOT-2024-7", repos.batches["b1"].BatchCode)
	require.Equal(t, "0x77", *repos.batches["b1"].BatchCodeHash)

	res = router.Route(context.Background(), event(contract.EventBatchCodeBound, "0x11", map[string]any{
		"batchId":       "8",
		"batchCode":     "LOT-X",
		"batchCodeHash": "0x78",
	}))
	require.Equal(t, Deferred, res.Outcome)
	require.Equal(t, model.EventPending, res.Status(true))
}

func TestEventsBeforeBatchSyncAreDeferred(t *testing.T) {
	repos := newMemRepos()
	repos.batches["b1"] = &model.Batch{ID: "b1", TxHashPending: strPtr("0xcreate")}
	router, logs := newTestRouter(t, repos)

	trace := event(contract.EventTraceEventRecorded, "0xtrace", map[string]any{
		"batchId":   "7",
		"eventType": int64(1),
		"actor":     "0x00000000000000000000000000000000000000a1",
	})
	res := router.Route(context.Background(), trace)
	require.Equal(t, Deferred, res.Outcome)
	require.Equal(t, model.EventPending, res.Status(false))
	require.Contains(t, res.Note(), "no local batch")
	require.Equal(t, 1, logs.FilterMessage("batch not synced yet, event deferred").Len())

	res = router.Route(context.Background(), event(contract.EventBatchCreated, "0xcreate", map[string]any{"batchId": "7"}))
	require.Equal(t, Applied, res.Outcome)

	res = router.Route(context.Background(), trace)
	require.Equal(t, Applied, res.Outcome)
	require.Len(t, repos.traces["b1"], 1)
	require.Equal(t, "PROCESSED", repos.traces["b1"][0].EventType)
}
