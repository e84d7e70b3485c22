package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMarketClosed gates order placement outside the regular session.
	// No backend call is made when it is returned.
	ErrMarketClosed = errors.New("market is closed")

	// ErrPositionExists rejects an entry for a pair already tracked.
	ErrPositionExists = errors.New("position already open for pair")

	// ErrNoPosition rejects an exit for a pair not tracked.
	ErrNoPosition = errors.New("no open position for pair")

	// ErrAmbiguous marks an exit whose outcome is unknown. The position
	// stays tracked as EXIT_PENDING until reconciliation resolves it.
	ErrAmbiguous = errors.New("exit outcome unknown, pending reconciliation")
)

// InsufficientSizeError reports a requested amount below one lot after
// quantization. The order is never sent.
type InsufficientSizeError struct {
	Pair      string
	Requested float64
	LotSize   int
}

func (e *InsufficientSizeError) Error() string {
	return fmt.Sprintf("requested %v of %s is below one lot of %d", e.Requested, e.Pair, e.LotSize)
}

// RejectedError carries the backend's rejection reason verbatim.
type RejectedError struct {
	Pair   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order for %s rejected: %s", e.Pair, e.Reason)
}

// ExitFailedError reports an exit that definitively did not happen. The
// position remains open.
type ExitFailedError struct {
	Pair string
	Err  error
}

func (e *ExitFailedError) Error() string {
	return fmt.Sprintf("exit for %s failed: %v", e.Pair, e.Err)
}

func (e *ExitFailedError) Unwrap() error { return e.Err }
