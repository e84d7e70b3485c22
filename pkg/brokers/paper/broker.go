// Package paper implements an in-memory simulated backend for dry runs.
// Market orders fill immediately at a random-walk price with slippage
// and commission, stop orders rest until the walk crosses the trigger.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"broker-core/pkg/brokers/common"
)

const (
	walkStep       = 0.005  // max fractional move per price tick
	defaultSlip    = 0.0005 // fractional slippage against the taker
	defaultFeeRate = 0.0003 // commission per fill, on notional
)

type restingOrder struct {
	id      string
	symbol  string
	venue   string
	side    common.Side
	qty     int
	trigger float64
	product common.ProductType
}

type position struct {
	symbol   string
	venue    string
	qty      int // signed, negative = short
	avgPrice float64
	product  common.ProductType
}

// Broker simulates fills against an internal price book.
type Broker struct {
	mu       sync.Mutex
	prices   map[string]float64 // venue:symbol -> last price
	resting  map[string]*restingOrder
	book     map[string]*position // venue:symbol -> net position
	rng      *rand.Rand
	slippage float64
	feeRate  float64
	fees     float64 // accumulated commission
}

func New(seed map[string]float64) *Broker {
	b := &Broker{
		prices:   make(map[string]float64),
		resting:  make(map[string]*restingOrder),
		book:     make(map[string]*position),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		slippage: defaultSlip,
		feeRate:  defaultFeeRate,
	}
	for k, v := range seed {
		b.prices[k] = v
	}
	return b
}

// NewDeterministic pins the walk's seed for tests.
func NewDeterministic(seed map[string]float64, rngSeed int64) *Broker {
	b := New(seed)
	b.rng = rand.New(rand.NewSource(rngSeed))
	return b
}

func (b *Broker) Name() string { return "paper" }

func (b *Broker) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Quantity <= 0 {
		return common.OrderResult{}, &common.PermanentError{Op: "submit", Reason: "quantity must be positive"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bookKey(req.Venue, req.Symbol)
	last, ok := b.prices[key]
	if !ok {
		return common.OrderResult{}, &common.PermanentError{Op: "submit", Reason: fmt.Sprintf("unknown instrument %s", key)}
	}

	id := uuid.NewString()
	if req.Kind == common.KindStop {
		b.resting[id] = &restingOrder{
			id:      id,
			symbol:  req.Symbol,
			venue:   req.Venue,
			side:    req.Side,
			qty:     req.Quantity,
			trigger: req.TriggerPrice,
			product: req.Product,
		}
		return common.OrderResult{OrderID: id, Status: common.StatusOpen}, nil
	}

	fill := last
	if req.Kind == common.KindLimit && req.Price > 0 {
		fill = req.Price
	}
	fill = b.applySlippage(fill, req.Side)
	b.fill(req.Symbol, req.Venue, req.Side, req.Quantity, fill, req.Product)
	return common.OrderResult{OrderID: id, Status: common.StatusFilled, Price: fill}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, symbol, venue, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.resting[orderID]; !ok {
		return &common.PermanentError{Op: "cancel", Reason: fmt.Sprintf("order %s not found", orderID)}
	}
	delete(b.resting, orderID)
	return nil
}

func (b *Broker) ClosePosition(ctx context.Context, symbol, venue string, product common.ProductType) (common.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bookKey(venue, symbol)
	pos, ok := b.book[key]
	if !ok || pos.qty == 0 {
		return common.OrderResult{}, &common.PermanentError{Op: "close", Reason: fmt.Sprintf("no open position for %s", key)}
	}

	side := common.SideSell
	qty := pos.qty
	if qty < 0 {
		side = common.SideBuy
		qty = -qty
	}
	fill := b.applySlippage(b.prices[key], side)
	b.fill(symbol, venue, side, qty, fill, product)
	return common.OrderResult{OrderID: uuid.NewString(), Status: common.StatusFilled, Price: fill}, nil
}

func (b *Broker) ListPositions(ctx context.Context) ([]common.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]common.BrokerPosition, 0, len(b.book))
	for key, pos := range b.book {
		if pos.qty == 0 {
			continue
		}
		out = append(out, common.BrokerPosition{
			Symbol:    pos.symbol,
			Venue:     pos.venue,
			Quantity:  pos.qty,
			AvgPrice:  pos.avgPrice,
			LastPrice: b.prices[key],
			Product:   pos.product,
		})
	}
	return out, nil
}

// GetPrice advances the random walk one step and may trip resting stops.
func (b *Broker) GetPrice(ctx context.Context, symbol, venue string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bookKey(venue, symbol)
	last, ok := b.prices[key]
	if !ok {
		return 0, &common.PermanentError{Op: "quote", Reason: fmt.Sprintf("unknown instrument %s", key)}
	}
	next := last * (1 + (b.rng.Float64()*2-1)*walkStep)
	b.prices[key] = next
	b.checkStops(symbol, venue, next)
	return next, nil
}

// SetPrice pins a quote directly, for tests and replay feeds.
func (b *Broker) SetPrice(symbol, venue string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[bookKey(venue, symbol)] = price
	b.checkStops(symbol, venue, price)
}

// Fees reports accumulated commission since construction.
func (b *Broker) Fees() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fees
}

// RestingOrders reports open stop order ids, newest state of the book.
func (b *Broker) RestingOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.resting))
	for id := range b.resting {
		ids = append(ids, id)
	}
	return ids
}

// checkStops fires resting stops crossed by the new price. A sell stop
// triggers at or below its level, a buy stop at or above. Caller holds mu.
func (b *Broker) checkStops(symbol, venue string, price float64) {
	for id, ord := range b.resting {
		if ord.symbol != symbol || ord.venue != venue {
			continue
		}
		crossed := (ord.side == common.SideSell && price <= ord.trigger) ||
			(ord.side == common.SideBuy && price >= ord.trigger)
		if !crossed {
			continue
		}
		fill := b.applySlippage(price, ord.side)
		b.fill(ord.symbol, ord.venue, ord.side, ord.qty, fill, ord.product)
		delete(b.resting, id)
	}
}

// fill applies one execution to the net book. Caller holds mu.
func (b *Broker) fill(symbol, venue string, side common.Side, qty int, price float64, product common.ProductType) {
	key := bookKey(venue, symbol)
	pos, ok := b.book[key]
	if !ok {
		pos = &position{symbol: symbol, venue: venue, product: product}
		b.book[key] = pos
	}

	signed := qty
	if side == common.SideSell {
		signed = -qty
	}
	prev := pos.qty
	next := prev + signed

	switch {
	case prev == 0 || (prev > 0) == (signed > 0):
		// opening or adding: blend the average
		total := pos.avgPrice*absFloat(prev) + price*absFloat(signed)
		pos.avgPrice = total / absFloat(next)
	case next == 0:
		pos.avgPrice = 0
	case (prev > 0) != (next > 0):
		// flipped through zero, remainder opens at the fill price
		pos.avgPrice = price
	}
	pos.qty = next
	if next == 0 {
		delete(b.book, key)
	}
	b.fees += price * float64(qty) * b.feeRate
}

func (b *Broker) applySlippage(price float64, side common.Side) float64 {
	if side == common.SideBuy {
		return price * (1 + b.slippage)
	}
	return price * (1 - b.slippage)
}

func bookKey(venue, symbol string) string { return venue + ":" + symbol }

func absFloat(n int) float64 {
	if n < 0 {
		return float64(-n)
	}
	return float64(n)
}
