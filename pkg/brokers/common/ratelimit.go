package common

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by Acquire when the computed wait exceeds the
// limiter's hard wait cap. Under normal operation Acquire blocks instead.
var ErrRateLimited = errors.New("rate limit wait exceeds cap")

// Tier is one token bucket: at most Limit requests per Window, refilled
// continuously at Limit/Window.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Limits configures a broker-wide limiter. Tiers all apply to every request;
// Operations adds a stricter bucket for specific API operations on top.
type Limits struct {
	Tiers      []Tier
	Operations map[string]Tier
	MinGap     time.Duration // minimum spacing between any two requests
	MaxWait    time.Duration // 0 = block indefinitely
}

// Broker presets. These are configuration defaults, not logic; callers can
// pass their own Limits to NewRateLimiter.
func ZerodhaLimits() Limits {
	return Limits{
		Tiers: []Tier{
			{Name: "second", Limit: 3, Window: time.Second},
			{Name: "minute", Limit: 180, Window: time.Minute},
		},
		MinGap: 330 * time.Millisecond,
	}
}

func SmartAPILimits() Limits {
	return Limits{
		Tiers: []Tier{
			{Name: "second", Limit: 10, Window: time.Second},
			{Name: "minute", Limit: 500, Window: time.Minute},
		},
		MinGap: 100 * time.Millisecond,
	}
}

func PaperLimits() Limits {
	return Limits{
		Tiers: []Tier{
			{Name: "second", Limit: 10, Window: time.Second},
			{Name: "minute", Limit: 300, Window: time.Minute},
		},
		MinGap: 50 * time.Millisecond,
	}
}

func DefaultLimits() Limits {
	return Limits{
		Tiers: []Tier{
			{Name: "second", Limit: 5, Window: time.Second},
			{Name: "minute", Limit: 100, Window: time.Minute},
		},
		MinGap: 200 * time.Millisecond,
	}
}

// LimitsFor returns the preset for a broker name, falling back to
// DefaultLimits for unknown brokers.
func LimitsFor(broker string) Limits {
	switch broker {
	case "zerodha", "kite":
		return ZerodhaLimits()
	case "smartapi", "angelone":
		return SmartAPILimits()
	case "paper":
		return PaperLimits()
	default:
		log.Printf("ratelimit: unknown broker %q, using default limits", broker)
		return DefaultLimits()
	}
}

type tierBucket struct {
	tier Tier
	lim  *rate.Limiter
}

func newBucket(t Tier) *tierBucket {
	return &tierBucket{tier: t, lim: rate.NewLimiter(rate.Limit(float64(t.Limit)/t.Window.Seconds()), t.Limit)}
}

// RateLimiter admits requests only when every applicable tier has a token.
// Acquire blocks until admitted (or the wait cap converts to ErrRateLimited);
// it never drops a request on the floor.
type RateLimiter struct {
	mu      sync.Mutex
	tiers   []*tierBucket
	ops     map[string]*tierBucket
	minGap  time.Duration
	maxWait time.Duration
	last    time.Time

	requests  uint64
	limitHits uint64
	totalWait time.Duration
	lastWait  time.Duration
	opHits    map[string]uint64
}

// NewRateLimiter builds a limiter from the given limits. Tiers with a
// non-positive limit are ignored.
func NewRateLimiter(l Limits) *RateLimiter {
	rl := &RateLimiter{
		ops:     make(map[string]*tierBucket),
		opHits:  make(map[string]uint64),
		minGap:  l.MinGap,
		maxWait: l.MaxWait,
	}
	for _, t := range l.Tiers {
		if t.Limit > 0 && t.Window > 0 {
			rl.tiers = append(rl.tiers, newBucket(t))
		}
	}
	for op, t := range l.Operations {
		if t.Limit > 0 && t.Window > 0 {
			rl.ops[op] = newBucket(t)
		}
	}
	return rl
}

// SetOperationLimit adds or replaces a stricter per-operation bucket.
func (rl *RateLimiter) SetOperationLimit(op string, t Tier) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ops[op] = newBucket(t)
}

// Acquire blocks until one token is available in every applicable tier, then
// consumes them atomically. op selects an additional per-operation bucket
// when one is configured; it may be empty.
func (rl *RateLimiter) Acquire(ctx context.Context, op string) error {
	rl.mu.Lock()

	buckets := make([]*tierBucket, 0, len(rl.tiers)+1)
	buckets = append(buckets, rl.tiers...)
	if op != "" {
		if b, ok := rl.ops[op]; ok {
			buckets = append(buckets, b)
			rl.opHits[op]++
		}
	}

	now := time.Now()
	var wait time.Duration
	reservations := make([]*rate.Reservation, 0, len(buckets))
	for _, b := range buckets {
		r := b.lim.ReserveN(now, 1)
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
	}
	if rl.minGap > 0 && !rl.last.IsZero() {
		if gap := rl.minGap - now.Sub(rl.last); gap > wait {
			wait = gap
		}
	}

	if rl.maxWait > 0 && wait > rl.maxWait {
		for _, r := range reservations {
			r.CancelAt(now)
		}
		rl.limitHits++
		rl.mu.Unlock()
		return ErrRateLimited
	}

	if wait > 0 {
		rl.limitHits++
		rl.totalWait += wait
	}
	rl.lastWait = wait
	rl.requests++
	rl.last = now.Add(wait)
	rl.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			rl.mu.Lock()
			for _, r := range reservations {
				r.Cancel()
			}
			rl.mu.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Stats returns a snapshot of limiter activity.
func (rl *RateLimiter) Stats() LimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	tokens := make(map[string]float64, len(rl.tiers))
	for _, b := range rl.tiers {
		tokens[b.tier.Name] = b.lim.TokensAt(now)
	}
	ops := make(map[string]uint64, len(rl.opHits))
	for k, v := range rl.opHits {
		ops[k] = v
	}
	return LimiterStats{
		Requests:      rl.requests,
		LimitHits:     rl.limitHits,
		TotalWait:     rl.totalWait,
		LastWait:      rl.lastWait,
		TierTokens:    tokens,
		OperationHits: ops,
	}
}
