package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"traceSync/internal/model"
)

func readNames(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev model.PersistedEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		names = append(names, ev.EventName)
	}
	require.NoError(t, scanner.Err())
	return names
}

func exportOnce(t *testing.T, sink *JsonlStorage) {
	t.Helper()
	require.NoError(t, sink.PutEventBatch(nil))
	require.NoError(t, sink.PutEventBatch([]model.PersistedEvent{
		{ID: 1, EventName: "BatchCreated", TxHash: "0x1", Status: model.EventConfirmed},
	}))
	require.NoError(t, sink.PutEventBatch([]model.PersistedEvent{
		{ID: 2, EventName: "BatchCodeBound", TxHash: "0x2", Status: model.EventConfirmed},
	}))
	require.NoError(t, sink.Close())
}

func TestJsonlStorageRerunReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")

	exportOnce(t, NewJsonlStorage(path))
	exportOnce(t, NewJsonlStorage(path))

	require.Equal(t, []string{"BatchCreated", "BatchCodeBound"}, readNames(t, path))
}

func TestJsonlStorageAppendMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	exportOnce(t, NewJsonlStorage(path))
	sink := NewJsonlStorage(path)
	sink.Append = true
	exportOnce(t, sink)

	require.Len(t, readNames(t, path), 4)
}

func TestJsonlStorageCloseWithoutWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewJsonlStorage(path)
	require.NoError(t, sink.Close())

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
