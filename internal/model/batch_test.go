package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSortTraceEntries(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) *time.Time {
		v := base.Add(d)
		return &v
	}

	entries := []TraceEntry{
		{ID: "late", Timestamp: ts(3 * time.Minute), CreatedAt: base, Seq: 1},
		{ID: "created-only", CreatedAt: base.Add(2 * time.Minute), Seq: 2},
		{ID: "tie-b", Timestamp: ts(time.Minute), CreatedAt: base, Seq: 4},
		{ID: "tie-a", Timestamp: ts(time.Minute), CreatedAt: base, Seq: 3},
	}

	SortTraceEntries(entries)

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"tie-a", "tie-b", "created-only", "late"}, ids)
}

func TestBatchMerkleRoot(t *testing.T) {
	require.Empty(t, Batch{}.MerkleRoot())
	b := Batch{Metadata: map[string]any{MetaMerkleRoot: "0xabc", "other": 1}}
	require.Equal(t, "0xabc", b.MerkleRoot())
}
