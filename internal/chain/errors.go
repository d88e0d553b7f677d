package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReverted marks a transaction the contract rejected, either during gas
// estimation or in the mined receipt. Retrying it unchanged fails again.
var ErrReverted = errors.New("execution reverted")

// revertErrorCode is the JSON-RPC code nodes use for reverts carrying data.
const revertErrorCode = 3

// RPCError is a transport-level failure talking to the chain node, including
// timeouts and provider throttling. It is always safe to retry.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// Temporary reports that the call may succeed on retry.
func (e *RPCError) Temporary() bool {
	return true
}

// IsRPCError reports whether err is or wraps an *RPCError.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RPCError{Op: op, Err: err}
}

// wrapTx classifies a transaction submission failure: contract reverts are
// plain errors wrapping ErrReverted, anything else is a transport *RPCError.
func wrapTx(op string, err error) error {
	if err == nil {
		return nil
	}
	if isRevert(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrReverted, err)
	}
	return wrapRPC(op, err)
}

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
