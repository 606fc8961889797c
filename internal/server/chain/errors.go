package chain

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
)

// Broadcast tells whether a failed write may have reached the network.
type Broadcast int

const (
	// BroadcastNone means the transaction was definitely not applied: it
	// failed before submission, was rejected by the node, or landed with an
	// error. Retrying is safe.
	BroadcastNone Broadcast = iota
	// BroadcastUncertain means the transaction may have been applied. The
	// caller must reconcile by signature instead of retrying.
	BroadcastUncertain
)

func (b Broadcast) String() string {
	if b == BroadcastUncertain {
		return "uncertain"
	}
	return "none"
}

// ChainError is returned by every failed write.
type ChainError struct {
	Op        string
	Broadcast Broadcast
	// Signature is set once the transaction was signed locally, which always
	// happens before submission.
	Signature string
	Err       error
}

func (e *ChainError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("chain %s failed (broadcast %s, signature %s): %v", e.Op, e.Broadcast, e.Signature, e.Err)
	}
	return fmt.Sprintf("chain %s failed (broadcast %s): %v", e.Op, e.Broadcast, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

func (e *ChainError) Code() string {
	if e.Broadcast == BroadcastUncertain {
		return common.CodeChainUncertain
	}
	return common.CodeChainRejected
}

func (e *ChainError) HTTPStatus() int {
	if e.Broadcast == BroadcastUncertain {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Uncertain reports whether the write may have been applied.
func (e *ChainError) Uncertain() bool {
	return e.Broadcast == BroadcastUncertain
}
