package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"traceSync/internal/model"
)

const (
	defaultRequestTimeout = 15 * time.Second
	// timestampCacheSize bounds the block time cache of a long-running worker.
	timestampCacheSize = 4096
)

// Client wraps go-ethereum RPC for one registry contract. Every call runs
// under a request timeout and failures are returned as *RPCError.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	contract  common.Address
	timeout   time.Duration

	tsCache *lru.Cache[uint64, uint64]
}

// NewClient dials the RPC URL.
func NewClient(ctx context.Context, rpcURL string, contract common.Address, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, wrapRPC("dial", err)
	}
	return newClient(rpcClient, contract, timeout), nil
}

func newClient(rpcClient *rpc.Client, contract common.Address, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		contract:  contract,
		timeout:   timeout,
		tsCache:   lru.NewCache[uint64, uint64](timestampCacheSize),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Contract returns the registry address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// Backend exposes the ethclient for contract bindings.
func (c *Client) Backend() *ethclient.Client {
	return c.ethClient
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := c.ethClient.ChainID(ctx)
	return id, wrapRPC("chain id", err)
}

// HeadBlock returns the latest block number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	head, err := c.ethClient.BlockNumber(ctx)
	return head, wrapRPC("block number", err)
}

// BlockTimestamp returns the block timestamp, using a bounded LRU cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.tsCache.Get(number); ok {
		return ts, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, wrapRPC("header by number", err)
	}

	c.tsCache.Add(number, header.Time)
	return header.Time, nil
}

// GetLogs returns the registry logs in [fromBlock, toBlock] whose topic0
// equals eventSignature.
func (c *Client) GetLogs(ctx context.Context, fromBlock, toBlock uint64, eventSignature common.Hash) ([]model.RawLog, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid block range %d-%d", fromBlock, toBlock)
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{eventSignature}},
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, wrapRPC("get logs", err)
	}

	out := make([]model.RawLog, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		out = append(out, ToRawLog(log))
	}
	return out, nil
}

// CallContract performs an eth_call against the registry.
func (c *Client) CallContract(ctx context.Context, data []byte, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	msg := ethereum.CallMsg{To: &c.contract, Data: data}
	out, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	return out, wrapRPC("call contract", err)
}

// ToRawLog converts a go-ethereum log into the decoder's input shape.
func ToRawLog(log types.Log) model.RawLog {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.RawLog{
		ContractAddress: log.Address.Hex(),
		Topics:          topics,
		Data:            hexutil.Encode(log.Data),
		BlockNumber:     log.BlockNumber,
		BlockHash:       log.BlockHash.Hex(),
		TxHash:          log.TxHash.Hex(),
		LogIndex:        uint64(log.Index),
		Removed:         log.Removed,
	}
}
