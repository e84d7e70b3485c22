// Package common defines the broker backend contract shared by every
// adapter, the failure taxonomy, and the per-broker rate limiter.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Client abstracts one brokerage backend. All calls are synchronous network
// round-trips; implementations must honor ctx deadlines and hold their
// broker's rate limiter before hitting the wire.
type Client interface {
	// Name returns the backend identifier (e.g. "zerodha", "paper").
	Name() string

	// SubmitOrder sends an order for execution.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelOrder requests cancellation of an open order. Cancels are
	// idempotent on every supported backend and safe to retry.
	CancelOrder(ctx context.Context, symbol, venue, orderID string) error

	// ClosePosition flattens the position in one backend operation.
	// Backends without a dedicated close return ErrUnsupported and the
	// caller falls back to a plain opposite-side order.
	ClosePosition(ctx context.Context, symbol, venue string, product ProductType) (OrderResult, error)

	// ListPositions returns the backend's authoritative open positions.
	ListPositions(ctx context.Context) ([]BrokerPosition, error)

	// GetPrice returns the last traded price for an instrument.
	GetPrice(ctx context.Context, symbol, venue string) (float64, error)
}

// ErrUnsupported is returned by ClosePosition on backends without a
// dedicated close operation.
var ErrUnsupported = errors.New("operation not supported by backend")

// TransientError marks a retryable backend failure (network hiccup,
// throttling response, 5xx).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a non-retryable rejection. Reason carries the
// backend's verbatim message so it can be surfaced to the caller.
type PermanentError struct {
	Op     string
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
