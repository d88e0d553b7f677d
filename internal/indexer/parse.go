package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"traceSync/internal/contract"
	"traceSync/internal/model"
)

// Stream is one tracked event type with its own cursor.
type Stream struct {
	Name      string
	EventName string
	Topic0    common.Hash
}

// Task builds the fetch task for r.
func (s Stream) Task(r BlockRange) model.FetchTask {
	return model.FetchTask{
		Stream:    s.Name,
		EventName: s.EventName,
		Topic0:    s.Topic0.Hex(),
		FromBlock: r.From,
		ToBlock:   r.To,
	}
}

// ParseAddress validates a hex contract address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ResolveStreams maps event names to streams using the registry ABI. An
// empty list selects the default tracked events.
func ResolveStreams(decoder *contract.Decoder, names []string) ([]Stream, error) {
	if len(names) == 0 {
		names = contract.TrackedEvents
	}
	seen := make(map[string]struct{}, len(names))
	streams := make([]Stream, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		topic, err := decoder.Topic0(name)
		if err != nil {
			return nil, err
		}
		streams = append(streams, Stream{Name: model.StreamName(name), EventName: name, Topic0: topic})
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("no events to track")
	}
	return streams, nil
}
