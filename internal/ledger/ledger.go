// Package ledger keeps the in-memory book of open positions, persisting
// every change through to SQLite for crash recovery.
package ledger

import (
	"context"
	"sync"
	"time"

	"broker-core/pkg/db"
)

// Status is the lifecycle state of a tracked position.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusExitPending Status = "EXIT_PENDING"
	StatusClosed      Status = "CLOSED"
)

// Position is one tracked position, keyed by canonical pair.
type Position struct {
	Pair          string
	Broker        string
	BackendSymbol string
	BackendVenue  string
	Token         string
	Side          string // BUY for long entries, SELL for short
	Quantity      int
	EntryPrice    float64
	EntryOrderID  string
	StopOrderID   string
	StopPrice     float64
	PeakPrice     float64
	Product       string
	Status        Status
	OpenedAt      time.Time
}

// Ledger holds positions in memory with a write-through to the database.
// The zero database is allowed for tests.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
	queries   *db.Queries
}

func New(queries *db.Queries) *Ledger {
	return &Ledger{
		positions: make(map[string]Position),
		queries:   queries,
	}
}

// Load seeds in-memory state from the database on startup.
func (l *Ledger) Load(ctx context.Context) error {
	if l.queries == nil {
		return nil
	}
	rows, err := l.queries.ListPositions(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		l.positions[r.Pair] = Position{
			Pair:          r.Pair,
			Broker:        r.Broker,
			BackendSymbol: r.BackendSymbol,
			BackendVenue:  r.Venue,
			Side:          r.Side,
			Quantity:      r.Qty,
			EntryPrice:    r.EntryPrice,
			EntryOrderID:  r.EntryOrderID,
			StopOrderID:   r.StopOrderID,
			StopPrice:     r.StopPrice,
			PeakPrice:     r.PeakPrice,
			Product:       r.Product,
			Status:        Status(r.Status),
			OpenedAt:      r.OpenedAt,
		}
	}
	return nil
}

// Get returns the position for a pair.
func (l *Ledger) Get(pair string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[pair]
	return p, ok
}

// All returns a snapshot of every tracked position.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		res = append(res, p)
	}
	return res
}

// Len returns the number of tracked positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Put stores or replaces a position and persists it.
func (l *Ledger) Put(ctx context.Context, p Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	l.positions[p.Pair] = p
	l.persist(ctx, p)
}

// Update applies fn to the position under the write lock and persists the
// result. It reports whether the pair was tracked.
func (l *Ledger) Update(ctx context.Context, pair string, fn func(*Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[pair]
	if !ok {
		return false
	}
	fn(&p)
	l.positions[pair] = p
	l.persist(ctx, p)
	return true
}

// Remove drops a position from the book and deletes its persisted row.
func (l *Ledger) Remove(ctx context.Context, pair string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[pair]
	if !ok {
		return Position{}, false
	}
	delete(l.positions, pair)
	if l.queries != nil {
		_ = l.queries.DeletePosition(ctx, pair)
	}
	return p, true
}

// persist writes through to the database. Caller holds l.mu.
func (l *Ledger) persist(ctx context.Context, p Position) {
	if l.queries == nil {
		return
	}
	_ = l.queries.UpsertPosition(ctx, db.PositionRow{
		Pair:          p.Pair,
		Broker:        p.Broker,
		BackendSymbol: p.BackendSymbol,
		Venue:         p.BackendVenue,
		Side:          p.Side,
		Qty:           p.Quantity,
		EntryPrice:    p.EntryPrice,
		EntryOrderID:  p.EntryOrderID,
		StopOrderID:   p.StopOrderID,
		StopPrice:     p.StopPrice,
		PeakPrice:     p.PeakPrice,
		Product:       p.Product,
		Status:        string(p.Status),
		OpenedAt:      p.OpenedAt,
	})
}
