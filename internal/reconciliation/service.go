// Package reconciliation runs the periodic backend-wins sweep that keeps
// the ledger aligned with what the broker actually holds.
package reconciliation

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"broker-core/internal/engine"
	"broker-core/internal/events"
)

// Reconciler is the part of the engine the service drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (engine.Report, error)
}

// Service triggers reconciliation on a fixed interval. A pass that is
// still running when the next tick fires is not stacked; the tick is
// skipped instead.
type Service struct {
	engine   Reconciler
	bus      *events.Bus
	broker   string
	interval time.Duration
	running  atomic.Bool

	lastReport atomic.Pointer[engine.Report]
	lastRun    atomic.Pointer[time.Time]
}

func NewService(eng Reconciler, bus *events.Bus, broker string, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		engine:   eng,
		bus:      bus,
		broker:   broker,
		interval: interval,
	}
}

// Start begins periodic reconciliation until ctx is cancelled. The first
// pass runs immediately so a restart converges without waiting a full
// interval.
func (s *Service) Start(ctx context.Context) {
	go func() {
		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("✓ Reconciliation service started (interval: %v)", s.interval)
}

// RunOnce executes a single pass, skipping if one is already in flight.
func (s *Service) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("reconciliation: previous pass still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	report, err := s.engine.Reconcile(ctx)
	if err != nil {
		log.Printf("❌ Reconciliation error: %v", err)
		return
	}
	elapsed := time.Since(start)

	s.lastReport.Store(&report)
	now := time.Now()
	s.lastRun.Store(&now)

	if report.Adopted+report.Reaped+report.Corrected > 0 {
		log.Printf("reconciliation: adopted=%d reaped=%d corrected=%d in %v",
			report.Adopted, report.Reaped, report.Corrected, elapsed)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventReconcileCompleted, events.ReconcileEvent{
			Broker:    s.broker,
			Adopted:   report.Adopted,
			Reaped:    report.Reaped,
			Corrected: report.Corrected,
			Duration:  elapsed,
			At:        now,
		})
	}
}

// LastReport returns the most recent pass result and when it ran.
func (s *Service) LastReport() (engine.Report, time.Time, bool) {
	rp := s.lastReport.Load()
	at := s.lastRun.Load()
	if rp == nil || at == nil {
		return engine.Report{}, time.Time{}, false
	}
	return *rp, *at, true
}
