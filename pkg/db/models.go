package db

import "time"

// OrderRow is the audit record for every order the engine touched,
// including rejected ones.
type OrderRow struct {
	ID            string
	Broker        string
	Pair          string
	BackendSymbol string
	Venue         string
	Side          string
	Kind          string
	Qty           int
	Price         float64
	TriggerPrice  float64
	Product       string
	Status        string
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PositionRow mirrors the in-memory ledger so positions survive restarts.
type PositionRow struct {
	Pair          string
	Broker        string
	BackendSymbol string
	Venue         string
	Side          string
	Qty           int
	EntryPrice    float64
	EntryOrderID  string
	StopOrderID   string
	StopPrice     float64
	PeakPrice     float64
	Product       string
	Status        string
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// ReconEventRow records one divergence the reconciler acted on.
type ReconEventRow struct {
	ID         int64
	Broker     string
	Pair       string
	Action     string
	Detail     string
	LocalQty   int
	BackendQty int
	CreatedAt  time.Time
}
