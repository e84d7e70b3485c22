// Package engine drives the order and position lifecycle: lot-aligned
// entries with protective stops, trailing-stop maintenance, and exits
// with a close-then-fallback path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"broker-core/internal/events"
	"broker-core/internal/ledger"
	"broker-core/internal/monitor"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/calendar"
	"broker-core/pkg/db"
	"broker-core/pkg/lots"
	"broker-core/pkg/symbols"
)

// Config tunes stop placement and exit behavior.
type Config struct {
	Product common.ProductType

	// StopDistance is the initial protective stop distance as a fraction
	// of the entry price.
	StopDistance float64

	// TrailActivation is the profit fraction at which the stop starts
	// trailing the peak.
	TrailActivation float64

	// TrailDistance is the gap kept between peak and stop once trailing.
	TrailDistance float64

	// FixedQuantity overrides notional sizing with a fixed raw quantity
	// for the given pairs.
	FixedQuantity map[string]float64

	// ExitDeadline bounds how long an exit may take before its outcome is
	// declared ambiguous.
	ExitDeadline time.Duration
}

// Engine serializes all lifecycle operations behind one mutex. Backend
// calls go through the shared rate limiter.
type Engine struct {
	cfg     Config
	client  common.Client
	limiter *common.RateLimiter
	mapper  *symbols.Mapper
	lots    *lots.Table
	cal     *calendar.Calendar
	book    *ledger.Ledger
	bus     *events.Bus
	queries *db.Queries
	metrics *monitor.Metrics

	mu  sync.Mutex
	now func() time.Time
}

func New(cfg Config, client common.Client, limiter *common.RateLimiter,
	mapper *symbols.Mapper, table *lots.Table, cal *calendar.Calendar,
	book *ledger.Ledger, bus *events.Bus, queries *db.Queries,
	metrics *monitor.Metrics) *Engine {

	if cfg.Product == "" {
		cfg.Product = common.ProductIntraday
	}
	if cfg.ExitDeadline <= 0 {
		cfg.ExitDeadline = 15 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		mapper:  mapper,
		lots:    table,
		cal:     cal,
		book:    book,
		bus:     bus,
		queries: queries,
		metrics: metrics,
		now:     time.Now,
	}
}

// Book exposes the position ledger for read-only callers.
func (e *Engine) Book() *ledger.Ledger { return e.book }

// Open places a market entry for the pair and attaches a protective stop.
// amount is the notional to deploy; it is converted to a lot-aligned
// quantity at the current price unless a fixed quantity is configured
// for the pair.
func (e *Engine) Open(ctx context.Context, pair string, side common.Side, amount float64) (ledger.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cal.IsOpen(e.now()) {
		return ledger.Position{}, ErrMarketClosed
	}
	if _, ok := e.book.Get(pair); ok {
		return ledger.Position{}, ErrPositionExists
	}

	inst, err := e.mapper.ToBackend(pair, e.client.Name())
	if err != nil {
		return ledger.Position{}, err
	}

	var raw, quoted float64
	if fixed, ok := e.cfg.FixedQuantity[pair]; ok {
		raw = fixed
	} else {
		quoted, err = e.fetchPrice(ctx, inst.Symbol, inst.Venue)
		if err != nil {
			return ledger.Position{}, err
		}
		if quoted <= 0 {
			return ledger.Position{}, fmt.Errorf("no quote for %s, cannot size entry", pair)
		}
		raw = amount / quoted
	}
	qty := e.lots.Quantize(pair, raw)
	if qty == 0 {
		return ledger.Position{}, &InsufficientSizeError{
			Pair:      pair,
			Requested: raw,
			LotSize:   e.lots.LotSize(pair),
		}
	}

	req := common.OrderRequest{
		Symbol:   inst.Symbol,
		Venue:    inst.Venue,
		Token:    inst.Token,
		Side:     side,
		Kind:     common.KindMarket,
		Quantity: qty,
		Product:  e.cfg.Product,
	}
	result, err := e.submit(ctx, pair, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || common.IsTransient(err) {
			// Unknown outcome. Never retried; the next reconciliation
			// pass adopts whatever the backend actually filled.
			log.Printf("engine: entry for %s ambiguous: %v", pair, err)
		}
		return ledger.Position{}, err
	}
	entry := result.Price
	if entry <= 0 {
		// Backends that fill asynchronously report no fill price yet.
		entry = quoted
		if entry <= 0 {
			if price, perr := e.fetchPrice(ctx, inst.Symbol, inst.Venue); perr == nil {
				entry = price
			}
		}
	}

	pos := ledger.Position{
		Pair:          pair,
		Broker:        e.client.Name(),
		BackendSymbol: inst.Symbol,
		BackendVenue:  inst.Venue,
		Token:         inst.Token,
		Side:          string(side),
		Quantity:      qty,
		EntryPrice:    entry,
		EntryOrderID:  result.OrderID,
		PeakPrice:     entry,
		Product:       string(e.cfg.Product),
		Status:        ledger.StatusOpen,
		OpenedAt:      e.now(),
	}

	// Protective stop. A failure here leaves the position tracked without
	// a stop; the next price tick retries placement.
	stopPrice := initialStop(side, entry, e.cfg.StopDistance)
	if stopID, err := e.placeStop(ctx, pair, inst, side, qty, stopPrice); err != nil {
		log.Printf("engine: protective stop for %s failed: %v", pair, err)
	} else {
		pos.StopOrderID = stopID
		pos.StopPrice = stopPrice
	}

	e.book.Put(ctx, pos)
	e.setOpenGauge()
	e.publish(events.EventPositionOpened, events.PositionEvent{
		Pair: pair, Broker: pos.Broker, Side: pos.Side, Qty: qty,
		EntryPrice: entry, At: e.now(),
	})
	log.Printf("engine: opened %s %s qty=%d entry=%.2f stop=%.2f", pos.Side, pair, qty, entry, pos.StopPrice)
	return pos, nil
}

// Close exits the tracked position. It cancels the protective stop, asks
// the backend to close, and falls back to an opposite market order when
// the backend has no native close. An exit that outruns the deadline
// returns ErrAmbiguous and is settled by the next reconciliation pass.
func (e *Engine) Close(ctx context.Context, pair string) (common.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.book.Get(pair)
	if !ok {
		return common.OrderResult{}, ErrNoPosition
	}
	// No calendar gate here. Exits reduce risk and are always attempted;
	// if the venue is closed the backend's own rejection is surfaced.

	if pos.StopOrderID != "" {
		if err := e.cancelOrder(ctx, pos); err != nil {
			// The stop may already have fired; reconciliation will catch
			// the resulting flat position.
			log.Printf("engine: cancel stop %s for %s: %v", pos.StopOrderID, pair, err)
		}
		e.book.Update(ctx, pair, func(p *ledger.Position) { p.StopOrderID = "" })
	}

	e.book.Update(ctx, pair, func(p *ledger.Position) { p.Status = ledger.StatusExitPending })

	exitCtx, cancel := context.WithTimeout(ctx, e.cfg.ExitDeadline)
	defer cancel()

	result, err := e.closeOnBackend(exitCtx, pos)
	switch {
	case err == nil:
		e.book.Remove(ctx, pair)
		e.setOpenGauge()
		e.publish(events.EventPositionClosed, events.PositionEvent{
			Pair: pair, Broker: pos.Broker, Side: pos.Side, Qty: pos.Quantity,
			EntryPrice: pos.EntryPrice, ExitPrice: result.Price, At: e.now(),
		})
		log.Printf("engine: closed %s qty=%d exit=%.2f", pair, pos.Quantity, result.Price)
		return result, nil
	case errors.Is(err, context.DeadlineExceeded) || common.IsTransient(err):
		// Unknown outcome. Leave the position EXIT_PENDING.
		log.Printf("engine: exit for %s ambiguous: %v", pair, err)
		return common.OrderResult{}, ErrAmbiguous
	default:
		// Definite failure, the position is still on the backend.
		e.book.Update(ctx, pair, func(p *ledger.Position) { p.Status = ledger.StatusOpen })
		return common.OrderResult{}, &ExitFailedError{Pair: pair, Err: err}
	}
}

// closeOnBackend prefers the backend's native close and falls back to an
// opposite market order.
func (e *Engine) closeOnBackend(ctx context.Context, pos ledger.Position) (common.OrderResult, error) {
	if err := e.acquire(ctx, "order"); err != nil {
		return common.OrderResult{}, err
	}
	result, err := e.client.ClosePosition(ctx, pos.BackendSymbol, pos.BackendVenue, common.ProductType(pos.Product))
	if err == nil {
		// A rejected ack is not an exit; the position is still live.
		if result.Status == common.StatusRejected {
			reason := result.Reason
			if reason == "" {
				reason = "close rejected by backend"
			}
			e.auditOrder(ctx, result.OrderID, pos, common.Side(pos.Side).Opposite(), common.KindMarket, pos.Quantity, result.Price, 0, "REJECTED", reason)
			return common.OrderResult{}, &common.PermanentError{Op: "close", Reason: reason}
		}
		e.auditOrder(ctx, result.OrderID, pos, common.Side(pos.Side).Opposite(), common.KindMarket, pos.Quantity, result.Price, 0, "FILLED", "")
		return result, nil
	}
	if !errors.Is(err, common.ErrUnsupported) {
		return common.OrderResult{}, err
	}

	req := common.OrderRequest{
		Symbol:   pos.BackendSymbol,
		Venue:    pos.BackendVenue,
		Token:    pos.Token,
		Side:     common.Side(pos.Side).Opposite(),
		Kind:     common.KindMarket,
		Quantity: pos.Quantity,
		Product:  common.ProductType(pos.Product),
	}
	return e.submit(ctx, pos.Pair, req)
}

// submit sends one order through the limiter and audits the outcome.
func (e *Engine) submit(ctx context.Context, pair string, req common.OrderRequest) (common.OrderResult, error) {
	if err := e.acquire(ctx, "order"); err != nil {
		return common.OrderResult{}, err
	}
	result, err := e.client.SubmitOrder(ctx, req)
	if err != nil {
		var perm *common.PermanentError
		if errors.As(err, &perm) {
			e.auditOrder(ctx, uuid.NewString(), posStub(pair, req), req.Side, req.Kind, req.Quantity, req.Price, req.TriggerPrice, "REJECTED", perm.Reason)
			if e.metrics != nil {
				e.metrics.OrdersRejected.WithLabelValues("backend").Inc()
			}
			e.publish(events.EventOrderRejected, events.OrderEvent{
				Broker: e.client.Name(), Pair: pair, Side: string(req.Side),
				Kind: string(req.Kind), Qty: req.Quantity, Reason: perm.Reason, At: e.now(),
			})
			return common.OrderResult{}, &RejectedError{Pair: pair, Reason: perm.Reason}
		}
		return common.OrderResult{}, err
	}

	// Some backends acknowledge placement and report the rejection in the
	// order's terminal status instead of an error.
	if result.Status == common.StatusRejected {
		reason := result.Reason
		if reason == "" {
			reason = "order rejected by backend"
		}
		e.auditOrder(ctx, result.OrderID, posStub(pair, req), req.Side, req.Kind, req.Quantity, result.Price, req.TriggerPrice, "REJECTED", reason)
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("backend").Inc()
		}
		e.publish(events.EventOrderRejected, events.OrderEvent{
			OrderID: result.OrderID, Broker: e.client.Name(), Pair: pair,
			Side: string(req.Side), Kind: string(req.Kind), Qty: req.Quantity,
			Reason: reason, At: e.now(),
		})
		return common.OrderResult{}, &RejectedError{Pair: pair, Reason: reason}
	}

	e.auditOrder(ctx, result.OrderID, posStub(pair, req), req.Side, req.Kind, req.Quantity, result.Price, req.TriggerPrice, string(result.Status), "")
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(string(req.Side), string(req.Kind)).Inc()
	}
	e.publish(events.EventOrderSubmitted, events.OrderEvent{
		OrderID: result.OrderID, Broker: e.client.Name(), Pair: pair,
		Side: string(req.Side), Kind: string(req.Kind), Qty: req.Quantity,
		Price: result.Price, At: e.now(),
	})
	return result, nil
}

func (e *Engine) placeStop(ctx context.Context, pair string, inst symbols.Instrument, entrySide common.Side, qty int, stopPrice float64) (string, error) {
	req := common.OrderRequest{
		Symbol:       inst.Symbol,
		Venue:        inst.Venue,
		Token:        inst.Token,
		Side:         entrySide.Opposite(),
		Kind:         common.KindStop,
		Quantity:     qty,
		TriggerPrice: stopPrice,
		Product:      e.cfg.Product,
	}
	result, err := e.submit(ctx, pair, req)
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

func (e *Engine) cancelOrder(ctx context.Context, pos ledger.Position) error {
	if err := e.acquire(ctx, "order"); err != nil {
		return err
	}
	return e.client.CancelOrder(ctx, pos.BackendSymbol, pos.BackendVenue, pos.StopOrderID)
}

// acquire waits on the shared limiter and records the wait time.
func (e *Engine) acquire(ctx context.Context, op string) error {
	start := e.now()
	if err := e.limiter.Acquire(ctx, op); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.LimiterWait.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Engine) auditOrder(ctx context.Context, id string, pos ledger.Position, side common.Side, kind common.OrderKind, qty int, price, trigger float64, status, reason string) {
	if e.queries == nil {
		return
	}
	if err := e.queries.InsertOrder(ctx, db.OrderRow{
		ID:            id,
		Broker:        e.client.Name(),
		Pair:          pos.Pair,
		BackendSymbol: pos.BackendSymbol,
		Venue:         pos.BackendVenue,
		Side:          string(side),
		Kind:          string(kind),
		Qty:           qty,
		Price:         price,
		TriggerPrice:  trigger,
		Product:       string(e.cfg.Product),
		Status:        status,
		Reason:        reason,
	}); err != nil {
		log.Printf("engine: order audit write failed: %v", err)
	}
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func (e *Engine) setOpenGauge() {
	if e.metrics != nil {
		e.metrics.OpenPositions.Set(float64(e.book.Len()))
	}
}

func initialStop(side common.Side, entry, distance float64) float64 {
	if side == common.SideBuy {
		return entry * (1 - distance)
	}
	return entry * (1 + distance)
}

// posStub adapts a request to the audit helper for orders placed before a
// ledger entry exists.
func posStub(pair string, req common.OrderRequest) ledger.Position {
	return ledger.Position{Pair: pair, BackendSymbol: req.Symbol, BackendVenue: req.Venue}
}
