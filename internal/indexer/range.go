package indexer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// NextRange returns the range to scan starting at next, capped at
// maxBlocks blocks and at head. ok is false when the chain has not advanced
// past next.
func NextRange(next, head, maxBlocks uint64) (BlockRange, bool) {
	if maxBlocks == 0 || head < next {
		return BlockRange{}, false
	}
	to := next + maxBlocks - 1
	if to > head || to < next {
		to = head
	}
	return BlockRange{From: next, To: to}, true
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
