package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"traceSync/internal/chain"
	"traceSync/internal/contract"
	"traceSync/internal/model"
	"traceSync/internal/reconcile"
	"traceSync/internal/storage/sqlite"
)

type fakeLogSource struct {
	logs      []model.RawLog
	failures  int
	failErr   error
	calls     int
	blockTime uint64
}

func (f *fakeLogSource) GetLogs(context.Context, uint64, uint64, common.Hash) ([]model.RawLog, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failErr
	}
	return f.logs, nil
}

func (f *fakeLogSource) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return f.blockTime, nil
}

func batchCreatedLog(t *testing.T, txHash string, batchID int64) model.RawLog {
	t.Helper()
	parsed, err := contract.RegistryABI()
	require.NoError(t, err)
	event := parsed.Events[contract.EventBatchCreated]

	data, err := event.Inputs.NonIndexed().Pack([32]byte(crypto.Keccak256Hash([]byte("init"))), "ipfs://b")
	require.NoError(t, err)

	return model.RawLog{
		ContractAddress: "0x5555555555555555555555555555555555555555",
		Topics: []string{
			event.ID.Hex(),
			common.BigToHash(big.NewInt(batchID)).Hex(),
			common.BigToHash(big.NewInt(1)).Hex(),
			common.BytesToHash(common.HexToAddress("0x01").Bytes()).Hex(),
		},
		Data:        hexutil.Encode(data),
		BlockNumber: 200,
		TxHash:      txHash,
	}
}

func newWorkerFixture(t *testing.T, source *fakeLogSource, handler reconcile.Handler) (*Worker, *sqlite.Store) {
	t.Helper()
	decoder, err := contract.NewDecoder()
	require.NoError(t, err)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	router := reconcile.NewRouter(nil)
	router.Register(contract.EventBatchCreated, handler)
	return NewWorker(source, decoder, router, store, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, nil), store
}

func fetchTask() model.FetchTask {
	return model.FetchTask{Stream: model.StreamName(contract.EventBatchCreated), EventName: contract.EventBatchCreated, FromBlock: 200, ToBlock: 219}
}

func TestWorkerPersistsDecodedEvents(t *testing.T) {
	unknown := model.RawLog{Topics: []string{common.HexToHash("0xdead").Hex()}, Data: "0x", TxHash: "0xzz"}
	source := &fakeLogSource{
		logs:      []model.RawLog{batchCreatedLog(t, "0xaa", 7), unknown},
		blockTime: 1714564800,
	}
	applied := 0
	worker, store := newWorkerFixture(t, source, func(context.Context, model.DecodedEvent) error {
		applied++
		return nil
	})

	require.NoError(t, worker.Process(context.Background(), fetchTask(), false))
	require.Equal(t, 1, applied)

	// Replaying the same range leaves one row.
	require.NoError(t, worker.Process(context.Background(), fetchTask(), false))

	rows, err := store.FindByRelatedAggregate(context.Background(), model.BatchAggregateKey("7"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.EventConfirmed, rows[0].Status)
	require.Equal(t, "0xaa", rows[0].TxHash)
	require.NotNil(t, rows[0].BlockTimestamp)
	require.True(t, rows[0].BlockTimestamp.Equal(time.Unix(1714564800, 0)))
}

func TestWorkerPersistsBeforeReportingReconcileFailure(t *testing.T) {
	source := &fakeLogSource{logs: []model.RawLog{batchCreatedLog(t, "0xbb", 8), batchCreatedLog(t, "0xcc", 9)}}
	worker, store := newWorkerFixture(t, source, func(_ context.Context, ev model.DecodedEvent) error {
		if ev.TxHash == "0xbb" {
			return errors.New("row locked")
		}
		return nil
	})

	err := worker.Process(context.Background(), fetchTask(), false)
	require.ErrorIs(t, err, ErrReconcileFailed)

	rows, err := store.FindByEventName(context.Background(), contract.EventBatchCreated)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byTx := map[string]model.EventStatus{}
	for _, row := range rows {
		byTx[row.TxHash] = row.Status
	}
	require.Equal(t, model.EventPending, byTx["0xbb"])
	require.Equal(t, model.EventConfirmed, byTx["0xcc"])

	err = worker.Process(context.Background(), fetchTask(), true)
	require.ErrorIs(t, err, ErrReconcileFailed)
	rows, err = store.FindByRelatedAggregate(context.Background(), model.BatchAggregateKey("8"))
	require.NoError(t, err)
	require.Equal(t, model.EventFailed, rows[0].Status)
}

func TestWorkerEmptyRangeIsNotAnError(t *testing.T) {
	worker, store := newWorkerFixture(t, &fakeLogSource{}, func(context.Context, model.DecodedEvent) error { return nil })
	require.NoError(t, worker.Process(context.Background(), fetchTask(), false))

	page, err := store.ListEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestWorkerRetriesRPCErrors(t *testing.T) {
	source := &fakeLogSource{failures: 2, failErr: &chain.RPCError{Op: "get logs", Err: context.DeadlineExceeded}}
	worker, _ := newWorkerFixture(t, source, func(context.Context, model.DecodedEvent) error { return nil })

	require.NoError(t, worker.Process(context.Background(), fetchTask(), false))
	require.Equal(t, 3, source.calls)
}

func TestWorkerDoesNotRetryOtherErrors(t *testing.T) {
	source := &fakeLogSource{failures: 5, failErr: errors.New("invalid block range")}
	worker, _ := newWorkerFixture(t, source, func(context.Context, model.DecodedEvent) error { return nil })

	require.Error(t, worker.Process(context.Background(), fetchTask(), false))
	require.Equal(t, 1, source.calls)
}

func traceRecordedLog(t *testing.T, txHash string, batchID int64) model.RawLog {
	t.Helper()
	parsed, err := contract.RegistryABI()
	require.NoError(t, err)
	event := parsed.Events[contract.EventTraceEventRecorded]

	data, err := event.Inputs.NonIndexed().Pack([32]byte(crypto.Keccak256Hash([]byte("shipped"))), uint64(1700000000))
	require.NoError(t, err)

	return model.RawLog{
		ContractAddress: "0x5555555555555555555555555555555555555555",
		Topics: []string{
			event.ID.Hex(),
			common.BigToHash(big.NewInt(batchID)).Hex(),
			common.BigToHash(big.NewInt(2)).Hex(),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()).Hex(),
		},
		Data:        hexutil.Encode(data),
		BlockNumber: 201,
		TxHash:      txHash,
	}
}

func TestWorkerReplaysTraceDeliveredBeforeBatchCreated(t *testing.T) {
	decoder, err := contract.NewDecoder()
	require.NoError(t, err)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	synced := false
	var traced []string
	router := reconcile.NewRouter(nil)
	router.Register(contract.EventBatchCreated, func(context.Context, model.DecodedEvent) error {
		synced = true
		return nil
	})
	router.Register(contract.EventTraceEventRecorded, func(_ context.Context, ev model.DecodedEvent) error {
		if !synced {
			return &reconcile.MismatchError{EventName: ev.EventName, Aggregate: "batch", Key: "id 7", Deferred: true}
		}
		traced = append(traced, ev.TxHash)
		return nil
	})

	source := &fakeLogSource{logs: []model.RawLog{traceRecordedLog(t, "0xtrace", 7)}}
	worker := NewWorker(source, decoder, router, store, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}, nil)
	ctx := context.Background()

	traceTask := model.FetchTask{Stream: model.StreamName(contract.EventTraceEventRecorded), EventName: contract.EventTraceEventRecorded, FromBlock: 200, ToBlock: 219}
	require.NoError(t, worker.Process(ctx, traceTask, false))
	require.Empty(t, traced)

	rows, err := store.FindByEventName(ctx, contract.EventTraceEventRecorded)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.EventPending, rows[0].Status)

	source.logs = []model.RawLog{batchCreatedLog(t, "0xcreate", 7)}
	require.NoError(t, worker.Process(ctx, fetchTask(), false))
	require.Equal(t, []string{"0xtrace"}, traced)

	rows, err = store.FindByEventName(ctx, contract.EventTraceEventRecorded)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.EventConfirmed, rows[0].Status)
}
