package engine

import (
	"context"
	"log"

	"broker-core/internal/events"
	"broker-core/internal/ledger"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/symbols"
)

// OnPrice feeds one price observation into the trailing-stop machinery for
// a tracked pair. The peak always advances on a favorable price, even when
// the resulting stop move cannot be placed; the stop itself only ever
// tightens.
func (e *Engine) OnPrice(ctx context.Context, pair string, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.book.Get(pair)
	if !ok || pos.Status != ledger.StatusOpen || price <= 0 {
		return nil
	}

	side := common.Side(pos.Side)
	peak := advancePeak(side, pos.PeakPrice, price)
	if peak != pos.PeakPrice {
		e.book.Update(ctx, pair, func(p *ledger.Position) { p.PeakPrice = peak })
		pos.PeakPrice = peak
	}

	desired, want := e.desiredStop(pos, side)
	if !want {
		return nil
	}

	// Replace the working stop: cancel then place. On any failure the old
	// stop (or its absence) stands and the next tick retries.
	inst := symbols.Instrument{Symbol: pos.BackendSymbol, Venue: pos.BackendVenue, Token: pos.Token}
	if pos.StopOrderID != "" {
		if err := e.cancelOrder(ctx, pos); err != nil {
			log.Printf("engine: trailing cancel for %s: %v", pair, err)
			return nil
		}
		e.book.Update(ctx, pair, func(p *ledger.Position) { p.StopOrderID = "" })
		pos.StopOrderID = ""
	}
	stopID, err := e.placeStop(ctx, pair, inst, side, pos.Quantity, desired)
	if err != nil {
		log.Printf("engine: trailing stop for %s at %.2f failed: %v", pair, desired, err)
		return nil
	}

	old := pos.StopPrice
	e.book.Update(ctx, pair, func(p *ledger.Position) {
		p.StopOrderID = stopID
		p.StopPrice = desired
	})
	if e.metrics != nil {
		e.metrics.StopAdjustments.Inc()
	}
	e.publish(events.EventStopAdjusted, events.StopEvent{
		Pair: pair, OldStop: old, NewStop: desired, Peak: peak, At: e.now(),
	})
	log.Printf("engine: stop for %s moved %.2f -> %.2f (peak %.2f)", pair, old, desired, peak)
	return nil
}

// desiredStop decides whether the stop should move and where to. It
// reports false when the current stop already protects at least as well.
func (e *Engine) desiredStop(pos ledger.Position, side common.Side) (float64, bool) {
	// A position without a working stop gets its initial stop back first.
	if pos.StopOrderID == "" && pos.StopPrice == 0 {
		return initialStop(side, pos.EntryPrice, e.cfg.StopDistance), true
	}

	if !trailingActive(side, pos.EntryPrice, pos.PeakPrice, e.cfg.TrailActivation) {
		if pos.StopOrderID == "" && pos.StopPrice > 0 {
			// Re-place a stop that was lost (cancel succeeded, placement
			// failed) at its previous level.
			return pos.StopPrice, true
		}
		return 0, false
	}

	desired := trailStop(side, pos.PeakPrice, e.cfg.TrailDistance)
	if pos.StopOrderID == "" {
		return desired, true
	}
	if tightens(side, pos.StopPrice, desired) {
		return desired, true
	}
	return 0, false
}

// advancePeak moves the peak only in the favorable direction.
func advancePeak(side common.Side, peak, price float64) float64 {
	if peak == 0 {
		return price
	}
	if side == common.SideBuy {
		if price > peak {
			return price
		}
		return peak
	}
	if price < peak {
		return price
	}
	return peak
}

// trailingActive reports whether the peak has moved far enough past the
// entry to start trailing.
func trailingActive(side common.Side, entry, peak, activation float64) bool {
	if entry <= 0 || peak <= 0 {
		return false
	}
	if side == common.SideBuy {
		return peak >= entry*(1+activation)
	}
	return peak <= entry*(1-activation)
}

func trailStop(side common.Side, peak, distance float64) float64 {
	if side == common.SideBuy {
		return peak * (1 - distance)
	}
	return peak * (1 + distance)
}

// tightens reports whether desired protects better than current.
func tightens(side common.Side, current, desired float64) bool {
	if side == common.SideBuy {
		return desired > current
	}
	return desired < current
}
