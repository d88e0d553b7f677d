package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"traceSync/internal/model"
)

// ErrUnknownEvent marks a log whose topic0 is not in the ABI.
var ErrUnknownEvent = errors.New("unknown event signature")

// DecodeError is a log that matched a known event but could not be unpacked.
type DecodeError struct {
	EventName string
	TxHash    string
	LogIndex  uint64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s tx=%s log=%d: %v", e.EventName, e.TxHash, e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder maps raw registry logs to named events with typed argument maps.
type Decoder struct {
	abi         abi.ABI
	topicToName map[string]string
}

// NewDecoder builds a decoder over the registry ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := RegistryABI()
	if err != nil {
		return nil, err
	}

	topicToName := make(map[string]string, len(parsed.Events))
	for name, event := range parsed.Events {
		topicToName[strings.ToLower(event.ID.Hex())] = name
	}

	return &Decoder{abi: parsed, topicToName: topicToName}, nil
}

// Topic0 returns the signature topic for an event name.
func (d *Decoder) Topic0(eventName string) (common.Hash, error) {
	event, ok := d.abi.Events[eventName]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %q not in abi", eventName)
	}
	return event.ID, nil
}

// CanDecode checks if the topic0 is a known event.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a RawLog into a DecodedEvent. Logs with an unknown topic0
// yield ErrUnknownEvent; malformed payloads yield *DecodeError.
func (d *Decoder) Decode(log model.RawLog) (*model.DecodedEvent, error) {
	name, ok := d.topicToName[strings.ToLower(log.Topic0())]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topic0())
	}
	event := d.abi.Events[name]

	args, err := d.unpack(event, log)
	if err != nil {
		return nil, &DecodeError{EventName: name, TxHash: log.TxHash, LogIndex: log.LogIndex, Err: err}
	}

	return &model.DecodedEvent{
		EventName:       name,
		Args:            args,
		TxHash:          log.TxHash,
		LogIndex:        log.LogIndex,
		BlockNumber:     log.BlockNumber,
		ContractAddress: log.ContractAddress,
	}, nil
}

func (d *Decoder) unpack(event abi.Event, log model.RawLog) (map[string]any, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	topics, err := parseTopicHashes(log.Topics[1:])
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(raw, indexed, topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}

	data, err := hexutil.Decode(log.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	for i, arg := range event.Inputs.NonIndexed() {
		raw[arg.Name] = values[i]
	}

	args := make(map[string]any, len(raw))
	for key, value := range raw {
		args[key] = normalizeValue(value)
	}
	return args, nil
}

// normalizeValue keeps integers of 32 bits or less native and renders every
// wider integer as a decimal string.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil
		}
		return v.String()
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case [32]byte:
		return hexutil.Encode(v[:])
	case []byte:
		return hexutil.Encode(v)
	case string, bool:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
