package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodedEventAggregateKey(t *testing.T) {
	require.Equal(t, "batch:7", DecodedEvent{Args: map[string]any{"batchId": "7", "productId": "1"}}.AggregateKey())
	require.Equal(t, "product:3", DecodedEvent{Args: map[string]any{"productId": "3"}}.AggregateKey())
	require.Empty(t, DecodedEvent{Args: map[string]any{"newCommitter": "0x1"}}.AggregateKey())
}

func TestDecodedEventArgs(t *testing.T) {
	ev := DecodedEvent{Args: map[string]any{
		"batchId":   "18446744073709551617",
		"eventType": int64(2),
		"empty":     "",
	}}

	id, ok := ev.StringArg("batchId")
	require.True(t, ok)
	require.Equal(t, "18446744073709551617", id)

	_, ok = ev.StringArg("empty")
	require.False(t, ok)
	_, ok = ev.StringArg("missing")
	require.False(t, ok)

	code, ok := ev.IntArg("eventType")
	require.True(t, ok)
	require.Equal(t, int64(2), code)
}

func TestFetchTaskID(t *testing.T) {
	task := FetchTask{Stream: StreamName("BatchCreated"), FromBlock: 100, ToBlock: 119}
	require.Equal(t, "crawl:BatchCreated:100-119", task.ID())
}
