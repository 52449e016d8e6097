package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MJE43/celo-rps/internal/games"
)

var (
	// ErrNoSigner is returned by write operations on a read-only client.
	ErrNoSigner = errors.New("chain: no signer configured")
	// ErrChainMismatch means the RPC endpoint serves a different chain id.
	ErrChainMismatch = errors.New("chain: chain id mismatch")
	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("chain: transaction reverted")
	// ErrEventMissing means a successful receipt carried no PartieJouee log.
	ErrEventMissing = errors.New("chain: PartieJouee event not found in receipt")
	// ErrInvalidChoice is returned for moves outside 0..2.
	ErrInvalidChoice = games.ErrInvalidChoice
	// ErrUnknownNetwork is returned when a network name is not configured.
	ErrUnknownNetwork = errors.New("chain: unknown network")
)

// RPCError wraps a failure talking to the JSON-RPC node.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// IsReverted reports whether the node rejected the call during execution.
func (e *RPCError) IsReverted() bool {
	return strings.Contains(strings.ToLower(e.Err.Error()), "execution reverted")
}

// IsRetryable is true for transport failures that may succeed on retry.
func (e *RPCError) IsRetryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	if e.IsReverted() {
		return false
	}
	msg := strings.ToLower(e.Err.Error())
	// Nonce and funding problems need a different transaction, not a retry.
	for _, fatal := range []string{"insufficient funds", "nonce too low", "replacement transaction underpriced"} {
		if strings.Contains(msg, fatal) {
			return false
		}
	}
	return true
}

func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RPCError{Op: op, Err: err}
}
