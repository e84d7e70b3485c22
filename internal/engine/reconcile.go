package engine

import (
	"context"
	"fmt"
	"log"

	"broker-core/internal/events"
	"broker-core/internal/ledger"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/db"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Adopted   int `json:"adopted"`
	Reaped    int `json:"reaped"`
	Corrected int `json:"corrected"`
}

// Reconcile merges the backend's position list into the ledger. The
// backend is authoritative: unknown backend positions are adopted, ledger
// positions the backend no longer has are reaped, and quantity drift is
// corrected to the backend's value. EXIT_PENDING positions are settled
// here, whichever way the ambiguous exit actually went.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.acquire(ctx, "positions"); err != nil {
		return Report{}, err
	}
	backend, err := e.client.ListPositions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list backend positions: %w", err)
	}

	byPair := make(map[string]common.BrokerPosition, len(backend))
	for _, bp := range backend {
		if bp.Quantity == 0 {
			continue
		}
		pair := e.mapper.FromBackend(e.client.Name(), bp.Symbol, bp.Venue)
		byPair[pair] = bp
	}

	var report Report
	for _, pos := range e.book.All() {
		bp, onBackend := byPair[pos.Pair]
		if !onBackend {
			if pos.Status == ledger.StatusExitPending {
				// The ambiguous exit went through.
				e.book.Remove(ctx, pos.Pair)
				e.publish(events.EventPositionClosed, events.PositionEvent{
					Pair: pos.Pair, Broker: pos.Broker, Side: pos.Side,
					Qty: pos.Quantity, EntryPrice: pos.EntryPrice,
					Detail: "settled by reconciliation", At: e.now(),
				})
				e.recordRecon(ctx, pos.Pair, "SETTLED", "ambiguous exit confirmed closed", pos.Quantity, 0)
				report.Corrected++
				continue
			}
			e.reap(ctx, pos)
			report.Reaped++
			continue
		}
		delete(byPair, pos.Pair)

		backendQty := abs(bp.Quantity)
		if pos.Status == ledger.StatusExitPending {
			// The ambiguous exit did not happen, the position lives on.
			e.book.Update(ctx, pos.Pair, func(p *ledger.Position) { p.Status = ledger.StatusOpen })
			e.recordRecon(ctx, pos.Pair, "REOPENED", "ambiguous exit confirmed still open", pos.Quantity, backendQty)
			report.Corrected++
		}
		if backendQty != pos.Quantity {
			detail := fmt.Sprintf("qty %d -> %d", pos.Quantity, backendQty)
			e.book.Update(ctx, pos.Pair, func(p *ledger.Position) { p.Quantity = backendQty })
			e.recordRecon(ctx, pos.Pair, "CORRECTED", detail, pos.Quantity, backendQty)
			log.Printf("engine: reconcile corrected %s %s", pos.Pair, detail)
			report.Corrected++
		}
	}

	for pair, bp := range byPair {
		e.adopt(ctx, pair, bp)
		report.Adopted++
	}

	e.setOpenGauge()
	if e.metrics != nil {
		e.metrics.ReconcileRuns.Inc()
	}
	return report, nil
}

// adopt brings an untracked backend position under management.
func (e *Engine) adopt(ctx context.Context, pair string, bp common.BrokerPosition) {
	side := common.SideBuy
	if bp.Quantity < 0 {
		side = common.SideSell
	}
	entry := bp.AvgPrice
	if entry <= 0 {
		entry = bp.LastPrice
	}
	if entry <= 0 {
		if price, err := e.fetchPrice(ctx, bp.Symbol, bp.Venue); err == nil {
			entry = price
		}
	}

	product := string(bp.Product)
	if product == "" {
		product = string(e.cfg.Product)
	}
	pos := ledger.Position{
		Pair:          pair,
		Broker:        e.client.Name(),
		BackendSymbol: bp.Symbol,
		BackendVenue:  bp.Venue,
		Side:          string(side),
		Quantity:      abs(bp.Quantity),
		EntryPrice:    entry,
		PeakPrice:     entry,
		Product:       product,
		Status:        ledger.StatusOpen,
		OpenedAt:      e.now(),
	}
	e.book.Put(ctx, pos)
	if e.metrics != nil {
		e.metrics.PositionsAdopted.Inc()
	}
	e.publish(events.EventPositionAdopted, events.PositionEvent{
		Pair: pair, Broker: pos.Broker, Side: pos.Side, Qty: pos.Quantity,
		EntryPrice: entry, Detail: "adopted from backend", At: e.now(),
	})
	e.recordRecon(ctx, pair, "ADOPTED", "", 0, pos.Quantity)
	log.Printf("engine: reconcile adopted %s %s qty=%d entry=%.2f", pos.Side, pair, pos.Quantity, entry)
}

// reap drops a ledger position the backend no longer reports.
func (e *Engine) reap(ctx context.Context, pos ledger.Position) {
	e.book.Remove(ctx, pos.Pair)
	if e.metrics != nil {
		e.metrics.PositionsReaped.Inc()
	}
	e.publish(events.EventPositionReaped, events.PositionEvent{
		Pair: pos.Pair, Broker: pos.Broker, Side: pos.Side, Qty: pos.Quantity,
		Detail: "gone from backend", At: e.now(),
	})
	e.recordRecon(ctx, pos.Pair, "REAPED", "", pos.Quantity, 0)
	log.Printf("engine: reconcile reaped %s qty=%d", pos.Pair, pos.Quantity)
}

func (e *Engine) fetchPrice(ctx context.Context, symbol, venue string) (float64, error) {
	if err := e.acquire(ctx, "quote"); err != nil {
		return 0, err
	}
	return e.client.GetPrice(ctx, symbol, venue)
}

func (e *Engine) recordRecon(ctx context.Context, pair, action, detail string, localQty, backendQty int) {
	if e.queries == nil {
		return
	}
	if err := e.queries.InsertReconEvent(ctx, db.ReconEventRow{
		Broker:     e.client.Name(),
		Pair:       pair,
		Action:     action,
		Detail:     detail,
		LocalQty:   localQty,
		BackendQty: backendQty,
	}); err != nil {
		log.Printf("engine: recon audit write failed: %v", err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
