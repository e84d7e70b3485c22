package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position entered on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind denotes the order types the engine places.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
	KindStop   OrderKind = "STOP"
)

// OrderStatus normalizes broker status into a small set.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// ProductType selects the broker product an order is booked under.
type ProductType string

const (
	ProductIntraday     ProductType = "MIS"  // margin intraday squareoff
	ProductDelivery     ProductType = "CNC"  // cash and carry
	ProductCarryForward ProductType = "NRML" // overnight F&O
)

// OrderRequest captures an order intent to be sent to a broker backend.
type OrderRequest struct {
	Symbol       string
	Venue        string
	Token        string // instrument token, brokers that need one
	Side         Side
	Kind         OrderKind
	Quantity     int
	Price        float64 // required for LIMIT
	TriggerPrice float64 // required for STOP
	Product      ProductType
	ClientID     string // client order id, for idempotent audit
}

// OrderResult returns the broker ack.
type OrderResult struct {
	OrderID string
	Status  OrderStatus
	Price   float64 // fill or ack price when the broker reports one
	Reason  string  // backend's status message, set on rejection
}

// BrokerPosition is one row of the backend's authoritative position report.
type BrokerPosition struct {
	Symbol    string
	Venue     string
	Quantity  int // signed: negative means short
	AvgPrice  float64
	LastPrice float64
	Product   ProductType
}

// LimiterStats is a snapshot of rate limiter activity.
type LimiterStats struct {
	Requests      uint64
	LimitHits     uint64
	TotalWait     time.Duration
	LastWait      time.Duration
	TierTokens    map[string]float64
	OperationHits map[string]uint64
}
