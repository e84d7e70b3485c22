package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventOrderSubmitted     Event = "order.submitted"
	EventOrderRejected      Event = "order.rejected"
	EventOrderCancelled     Event = "order.cancelled"
	EventPositionOpened     Event = "position.opened"
	EventPositionClosed     Event = "position.closed"
	EventPositionAdopted    Event = "position.adopted"
	EventPositionReaped     Event = "position.reaped"
	EventStopAdjusted       Event = "stop.adjusted"
	EventReconcileCompleted Event = "reconcile.completed"
)

// OrderEvent is published for submitted, rejected and cancelled orders.
type OrderEvent struct {
	OrderID string    `json:"order_id"`
	Broker  string    `json:"broker"`
	Pair    string    `json:"pair"`
	Side    string    `json:"side"`
	Kind    string    `json:"kind"`
	Qty     int       `json:"qty"`
	Price   float64   `json:"price,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// PositionEvent is published when a position opens, closes, or is
// adopted/reaped by reconciliation.
type PositionEvent struct {
	Pair       string    `json:"pair"`
	Broker     string    `json:"broker"`
	Side       string    `json:"side"`
	Qty        int       `json:"qty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// StopEvent is published when a protective stop moves.
type StopEvent struct {
	Pair     string    `json:"pair"`
	OldStop  float64   `json:"old_stop"`
	NewStop  float64   `json:"new_stop"`
	Peak     float64   `json:"peak"`
	At       time.Time `json:"at"`
}

// ReconcileEvent summarizes one reconciliation pass.
type ReconcileEvent struct {
	Broker    string        `json:"broker"`
	Adopted   int           `json:"adopted"`
	Reaped    int           `json:"reaped"`
	Corrected int           `json:"corrected"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}
