package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the registry contract.
const (
	EventProductCreated           = "ProductCreated"
	EventBatchCreated             = "BatchCreated"
	EventTraceEventRecorded       = "TraceEventRecorded"
	EventBatchMerkleRootCommitted = "BatchMerkleRootCommitted"
	EventBatchCodeBound           = "BatchCodeBound"
	EventCommitterUpdated         = "CommitterUpdated"
	EventPaused                   = "Paused"
	EventUnpaused                 = "Unpaused"
)

// TrackedEvents is the default set of events crawled into the Event Store.
var TrackedEvents = []string{
	EventProductCreated,
	EventBatchCreated,
	EventTraceEventRecorded,
	EventBatchMerkleRootCommitted,
	EventBatchCodeBound,
}

const registryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "productId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "bytes32", "name": "metadataHash", "type": "bytes32"},
      {"indexed": false, "internalType": "string", "name": "metadataURI", "type": "string"}
    ],
    "name": "ProductCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "batchId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "productId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "bytes32", "name": "initialDataHash", "type": "bytes32"},
      {"indexed": false, "internalType": "string", "name": "metadataURI", "type": "string"}
    ],
    "name": "BatchCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "batchId", "type": "uint256"},
      {"indexed": true, "internalType": "uint8", "name": "eventType", "type": "uint8"},
      {"indexed": true, "internalType": "address", "name": "actor", "type": "address"},
      {"indexed": false, "internalType": "bytes32", "name": "dataHash", "type": "bytes32"},
      {"indexed": false, "internalType": "uint64", "name": "timestamp", "type": "uint64"}
    ],
    "name": "TraceEventRecorded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "batchId", "type": "uint256"},
      {"indexed": false, "internalType": "bytes32", "name": "merkleRoot", "type": "bytes32"},
      {"indexed": false, "internalType": "uint256", "name": "fromEventId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "toEventId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "committer", "type": "address"}
    ],
    "name": "BatchMerkleRootCommitted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "batchId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "batchCode", "type": "string"},
      {"indexed": false, "internalType": "bytes32", "name": "batchCodeHash", "type": "bytes32"}
    ],
    "name": "BatchCodeBound",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "oldCommitter", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newCommitter", "type": "address"}
    ],
    "name": "CommitterUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "internalType": "address", "name": "account", "type": "address"}],
    "name": "Paused",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "internalType": "address", "name": "account", "type": "address"}],
    "name": "Unpaused",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "batchId", "type": "uint256"},
      {"internalType": "bytes32", "name": "root", "type": "bytes32"},
      {"internalType": "uint256", "name": "fromEventId", "type": "uint256"},
      {"internalType": "uint256", "name": "toEventId", "type": "uint256"}
    ],
    "name": "commitBatchMerkleRoot",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "name": "batches",
    "outputs": [
      {"internalType": "uint256", "name": "productId", "type": "uint256"},
      {"internalType": "address", "name": "creator", "type": "address"},
      {"internalType": "bytes32", "name": "root", "type": "bytes32"},
      {"internalType": "bool", "name": "exists", "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "paused",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	registryABI     abi.ABI
	registryABIOnce sync.Once
	registryABIErr  error
)

// RegistryABI returns the parsed registry contract ABI.
func RegistryABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		registryABI, registryABIErr = abi.JSON(strings.NewReader(registryABIJSON))
	})
	return registryABI, registryABIErr
}
