package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Queries wraps the order, position and reconciliation statements.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance over an open database.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Order audit log
// ----------------------------------------

// InsertOrder records an order attempt. Rejected orders go in too, with
// status REJECTED and the broker's reason.
func (q *Queries) InsertOrder(ctx context.Context, o OrderRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (id, broker, pair, backend_symbol, venue, side, kind,
		                    qty, price, trigger_price, product, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.Broker, o.Pair, o.BackendSymbol, o.Venue, o.Side, o.Kind,
		o.Qty, o.Price, o.TriggerPrice, o.Product, o.Status, o.Reason)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus moves an order to a new status.
func (q *Queries) UpdateOrderStatus(ctx context.Context, orderID, status, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, reason, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return nil
}

// RecentOrders returns the newest orders for a pair, or all pairs when
// pair is empty.
func (q *Queries) RecentOrders(ctx context.Context, pair string, limit int) ([]OrderRow, error) {
	query := `
		SELECT id, broker, pair, backend_symbol, venue, side, kind, qty, price,
		       trigger_price, product, status, COALESCE(reason, ''), created_at, updated_at
		FROM orders`
	args := []any{}
	if pair != "" {
		query += ` WHERE pair = ?`
		args = append(args, pair)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRow
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.ID, &o.Broker, &o.Pair, &o.BackendSymbol, &o.Venue,
			&o.Side, &o.Kind, &o.Qty, &o.Price, &o.TriggerPrice, &o.Product,
			&o.Status, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Position write-through
// ----------------------------------------

// UpsertPosition writes the current ledger state for a pair.
func (q *Queries) UpsertPosition(ctx context.Context, p PositionRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (pair, broker, backend_symbol, venue, side, qty,
		                       entry_price, entry_order_id, stop_order_id,
		                       stop_price, peak_price, product, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(pair) DO UPDATE SET
			broker = excluded.broker,
			backend_symbol = excluded.backend_symbol,
			venue = excluded.venue,
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			entry_order_id = excluded.entry_order_id,
			stop_order_id = excluded.stop_order_id,
			stop_price = excluded.stop_price,
			peak_price = excluded.peak_price,
			product = excluded.product,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, p.Pair, p.Broker, p.BackendSymbol, p.Venue, p.Side, p.Qty,
		p.EntryPrice, p.EntryOrderID, p.StopOrderID,
		p.StopPrice, p.PeakPrice, p.Product, p.Status, nullableTime(p.OpenedAt))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes a closed position's row.
func (q *Queries) DeletePosition(ctx context.Context, pair string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM positions WHERE pair = ?`, pair); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// ListPositions loads every persisted position, used to warm the ledger
// at startup.
func (q *Queries) ListPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT pair, broker, backend_symbol, venue, side, qty, entry_price,
		       COALESCE(entry_order_id, ''), COALESCE(stop_order_id, ''),
		       COALESCE(stop_price, 0), COALESCE(peak_price, 0),
		       product, status, opened_at, updated_at
		FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.Pair, &p.Broker, &p.BackendSymbol, &p.Venue, &p.Side,
			&p.Qty, &p.EntryPrice, &p.EntryOrderID, &p.StopOrderID,
			&p.StopPrice, &p.PeakPrice, &p.Product, &p.Status,
			&p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ----------------------------------------
// Reconciliation audit
// ----------------------------------------

// InsertReconEvent records one reconciliation action.
func (q *Queries) InsertReconEvent(ctx context.Context, e ReconEventRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO recon_events (broker, pair, action, detail, local_qty, backend_qty)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Broker, e.Pair, e.Action, e.Detail, e.LocalQty, e.BackendQty)
	if err != nil {
		return fmt.Errorf("insert recon event: %w", err)
	}
	return nil
}

// RecentReconEvents returns the newest reconciliation events.
func (q *Queries) RecentReconEvents(ctx context.Context, limit int) ([]ReconEventRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, broker, pair, action, COALESCE(detail, ''), local_qty, backend_qty, created_at
		FROM recon_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recon events: %w", err)
	}
	defer rows.Close()

	var events []ReconEventRow
	for rows.Next() {
		var e ReconEventRow
		if err := rows.Scan(&e.ID, &e.Broker, &e.Pair, &e.Action, &e.Detail,
			&e.LocalQty, &e.BackendQty, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recon event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullableTime maps the zero time to NULL so SQLite defaults apply.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
