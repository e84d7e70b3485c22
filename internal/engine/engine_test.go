package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"broker-core/internal/events"
	"broker-core/internal/ledger"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/calendar"
	"broker-core/pkg/lots"
	"broker-core/pkg/symbols"
)

// fakeClient scripts backend behavior per call.
type fakeClient struct {
	name        string
	price       float64
	nativeClose bool

	submitErr error
	cancelErr error
	closeErr  error
	listErr   error

	// Terminal status reported on an otherwise successful ack.
	submitStatus common.OrderStatus
	submitReason string
	closeStatus  common.OrderStatus
	closeReason  string

	positions []common.BrokerPosition

	submitted []common.OrderRequest
	cancelled []string
	closed    int
	listCalls int
	nextID    int
}

func (f *fakeClient) Name() string {
	if f.name == "" {
		return "paper"
	}
	return f.name
}

func (f *fakeClient) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if f.submitErr != nil {
		return common.OrderResult{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	f.nextID++
	price := req.Price
	if req.Kind == common.KindMarket {
		price = f.price
	}
	status := f.submitStatus
	if status == "" {
		status = common.StatusFilled
	}
	return common.OrderResult{
		OrderID: fmt.Sprintf("ord-%d", f.nextID),
		Status:  status,
		Price:   price,
		Reason:  f.submitReason,
	}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, symbol, venue, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeClient) ClosePosition(ctx context.Context, symbol, venue string, product common.ProductType) (common.OrderResult, error) {
	if f.closeErr != nil {
		return common.OrderResult{}, f.closeErr
	}
	if !f.nativeClose {
		return common.OrderResult{}, common.ErrUnsupported
	}
	f.closed++
	f.nextID++
	status := f.closeStatus
	if status == "" {
		status = common.StatusFilled
	}
	return common.OrderResult{OrderID: fmt.Sprintf("ord-%d", f.nextID), Status: status, Price: f.price, Reason: f.closeReason}, nil
}

func (f *fakeClient) ListPositions(ctx context.Context) ([]common.BrokerPosition, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.positions, nil
}

func (f *fakeClient) GetPrice(ctx context.Context, symbol, venue string) (float64, error) {
	return f.price, nil
}

func marketOpen() time.Time {
	return time.Date(2026, time.August, 31, 12, 0, 0, 0, calendar.IST)
}

func marketClosed() time.Time {
	return time.Date(2026, time.August, 31, 18, 0, 0, 0, calendar.IST)
}

func newTestEngine(t *testing.T, client *fakeClient) *Engine {
	t.Helper()
	cfg := Config{
		StopDistance:    0.02,
		TrailActivation: 0.01,
		TrailDistance:   0.005,
		ExitDeadline:    time.Second,
	}
	e := New(cfg, client, common.NewRateLimiter(common.PaperLimits()),
		symbols.New(), lots.NewTable(), calendar.New(),
		ledger.New(nil), events.NewBus(), nil, nil)
	e.now = marketOpen
	return e
}

func TestOpenPlacesEntryAndStop(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)

	pos, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_440_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pos.Quantity != 50 {
		t.Errorf("quantity = %d, want 50 (lot aligned)", pos.Quantity)
	}
	if pos.EntryPrice != 24000 || pos.PeakPrice != 24000 {
		t.Errorf("entry/peak = %v/%v", pos.EntryPrice, pos.PeakPrice)
	}
	if len(client.submitted) != 2 {
		t.Fatalf("submitted %d orders, want entry + stop", len(client.submitted))
	}
	stop := client.submitted[1]
	if stop.Kind != common.KindStop || stop.Side != common.SideSell {
		t.Errorf("stop order = %+v", stop)
	}
	wantStop := 24000 * 0.98
	if stop.TriggerPrice != wantStop || pos.StopPrice != wantStop {
		t.Errorf("stop trigger = %v, want %v", stop.TriggerPrice, wantStop)
	}
	if got, ok := e.book.Get("NIFTY50/INR"); !ok || got.Status != ledger.StatusOpen {
		t.Errorf("ledger entry = %+v, ok=%v", got, ok)
	}
}

func TestOpenWhileMarketClosedMakesNoBackendCalls(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)
	e.now = marketClosed

	if _, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}
	if len(client.submitted) != 0 {
		t.Errorf("backend saw %d orders, want 0", len(client.submitted))
	}
}

func TestCloseAllowedWhileMarketClosed(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}

	// Exits reduce risk and are never calendar-gated.
	e.now = marketClosed
	if _, err := e.Close(ctx, "NIFTY50/INR"); err != nil {
		t.Fatalf("Close outside session: %v", err)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("position still tracked after close")
	}
}

func TestOpenBelowOneLot(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)

	_, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 240_000)
	var sizeErr *InsufficientSizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("err = %v, want InsufficientSizeError", err)
	}
	if sizeErr.LotSize != 25 || sizeErr.Requested != 10 {
		t.Errorf("error detail = %+v", sizeErr)
	}
	if len(client.submitted) != 0 {
		t.Error("no order should reach the backend")
	}
}

func TestOpenFixedQuantityOverride(t *testing.T) {
	client := &fakeClient{price: 24000}
	cfg := Config{
		StopDistance:    0.02,
		TrailActivation: 0.01,
		TrailDistance:   0.005,
		ExitDeadline:    time.Second,
		FixedQuantity:   map[string]float64{"NIFTY50/INR": 60},
	}
	e := New(cfg, client, common.NewRateLimiter(common.PaperLimits()),
		symbols.New(), lots.NewTable(), calendar.New(),
		ledger.New(nil), events.NewBus(), nil, nil)
	e.now = marketOpen

	// Notional is ignored for pairs with a fixed quantity.
	pos, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pos.Quantity != 50 {
		t.Errorf("quantity = %d, want fixed 60 quantized to 50", pos.Quantity)
	}
}

func TestOpenRejectionCarriesBackendReason(t *testing.T) {
	client := &fakeClient{price: 24000, submitErr: &common.PermanentError{Op: "order", Reason: "RMS:Blocked for margin"}}
	e := newTestEngine(t, client)

	_, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000)
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
	if rej.Reason != "RMS:Blocked for margin" {
		t.Errorf("reason = %q, want backend reason verbatim", rej.Reason)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("rejected entry must not create a position")
	}
}

func TestOpenRejectedAckCreatesNoPosition(t *testing.T) {
	client := &fakeClient{price: 24000, submitStatus: common.StatusRejected, submitReason: "RMS:Margin Exceeds"}
	e := newTestEngine(t, client)

	_, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000)
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
	if rej.Reason != "RMS:Margin Exceeds" {
		t.Errorf("reason = %q, want backend status message", rej.Reason)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("rejected ack must not create a position")
	}
	// The entry was the only order; no stop may rest for a position that
	// does not exist.
	if len(client.submitted) != 1 {
		t.Errorf("submitted %d orders, want entry only", len(client.submitted))
	}
}

func TestOpenTransientOutcomeLeavesNoPosition(t *testing.T) {
	client := &fakeClient{price: 24000, submitErr: &common.TransientError{Op: "order", Err: errors.New("gateway timeout")}}
	e := newTestEngine(t, client)

	_, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000)
	if !common.IsTransient(err) {
		t.Fatalf("err = %v, want the transient error surfaced", err)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("unknown outcome must not create a position; reconciliation adopts any fill")
	}
}

func TestCloseRejectedAckReopensPosition(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.closeStatus = common.StatusRejected
	client.closeReason = "RMS:Square-off window closed"

	_, err := e.Close(ctx, "NIFTY50/INR")
	var exitErr *ExitFailedError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want ExitFailedError", err)
	}
	pos, ok := e.book.Get("NIFTY50/INR")
	if !ok || pos.Status != ledger.StatusOpen {
		t.Errorf("position = %+v, ok=%v; a rejected close must reopen it", pos, ok)
	}
}

func TestOpenDuplicatePair(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)

	if _, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Open(context.Background(), "NIFTY50/INR", common.SideBuy, 1_200_000); !errors.Is(err, ErrPositionExists) {
		t.Errorf("err = %v, want ErrPositionExists", err)
	}
}

func TestTrailingStopTightensMonotonically(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	initial := 24000 * 0.98

	// Below activation: stop stays at initial.
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24100); err != nil {
		t.Fatal(err)
	}
	pos, _ := e.book.Get("NIFTY50/INR")
	if pos.StopPrice != initial {
		t.Fatalf("stop moved before activation: %v", pos.StopPrice)
	}

	// Past activation: stop trails the peak.
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24300); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("NIFTY50/INR")
	want := 24300 * 0.995
	if pos.StopPrice != want {
		t.Fatalf("stop = %v, want %v", pos.StopPrice, want)
	}
	if pos.PeakPrice != 24300 {
		t.Errorf("peak = %v, want 24300", pos.PeakPrice)
	}

	// Price retreat: peak and stop hold.
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24100); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("NIFTY50/INR")
	if pos.StopPrice != want || pos.PeakPrice != 24300 {
		t.Errorf("retreat moved stop/peak: %v/%v", pos.StopPrice, pos.PeakPrice)
	}

	// New high: stop tightens again.
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24500); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("NIFTY50/INR")
	if pos.StopPrice != 24500*0.995 {
		t.Errorf("stop = %v, want %v", pos.StopPrice, 24500*0.995)
	}
}

func TestPeakAdvancesEvenWhenStopPlacementFails(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	before, _ := e.book.Get("NIFTY50/INR")

	client.cancelErr = errors.New("network down")
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24400); err != nil {
		t.Fatal(err)
	}
	pos, _ := e.book.Get("NIFTY50/INR")
	if pos.PeakPrice != 24400 {
		t.Errorf("peak = %v, want 24400 despite broker failure", pos.PeakPrice)
	}
	if pos.StopPrice != before.StopPrice || pos.StopOrderID != before.StopOrderID {
		t.Errorf("stop changed despite failed adjustment: %+v", pos)
	}

	// Recovery: next tick replaces the stop.
	client.cancelErr = nil
	if err := e.OnPrice(ctx, "NIFTY50/INR", 24400); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("NIFTY50/INR")
	if pos.StopPrice != 24400*0.995 {
		t.Errorf("stop after recovery = %v", pos.StopPrice)
	}
}

func TestShortSideTrailing(t *testing.T) {
	client := &fakeClient{price: 50000}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "BANKNIFTY/INR", common.SideSell, 750_000); err != nil {
		t.Fatal(err)
	}
	pos, _ := e.book.Get("BANKNIFTY/INR")
	if pos.StopPrice != 50000*1.02 {
		t.Fatalf("short initial stop = %v", pos.StopPrice)
	}

	// Favorable move for a short is down.
	if err := e.OnPrice(ctx, "BANKNIFTY/INR", 49000); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("BANKNIFTY/INR")
	if pos.PeakPrice != 49000 {
		t.Errorf("peak = %v, want 49000", pos.PeakPrice)
	}
	if pos.StopPrice != 49000*1.005 {
		t.Errorf("stop = %v, want %v", pos.StopPrice, 49000*1.005)
	}

	// Adverse move holds the stop.
	if err := e.OnPrice(ctx, "BANKNIFTY/INR", 49800); err != nil {
		t.Fatal(err)
	}
	pos, _ = e.book.Get("BANKNIFTY/INR")
	if pos.StopPrice != 49000*1.005 {
		t.Errorf("adverse move changed stop: %v", pos.StopPrice)
	}
}

func TestCloseWithFallback(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.price = 24200

	result, err := e.Close(ctx, "NIFTY50/INR")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Price != 24200 {
		t.Errorf("exit price = %v", result.Price)
	}
	if len(client.cancelled) != 1 {
		t.Errorf("stop cancellations = %d, want 1", len(client.cancelled))
	}
	// Native close is unsupported, so the exit is an opposite market order.
	last := client.submitted[len(client.submitted)-1]
	if last.Side != common.SideSell || last.Kind != common.KindMarket || last.Quantity != 50 {
		t.Errorf("fallback order = %+v", last)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("position still tracked after close")
	}
}

func TestCloseUsesNativeCloseWhenSupported(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	entryOrders := len(client.submitted)

	if _, err := e.Close(ctx, "NIFTY50/INR"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.closed != 1 {
		t.Errorf("native close calls = %d, want 1", client.closed)
	}
	if len(client.submitted) != entryOrders {
		t.Error("fallback order placed despite native close")
	}
}

func TestCloseAmbiguousLeavesExitPending(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.closeErr = &common.TransientError{Op: "close", Err: errors.New("gateway timeout")}

	if _, err := e.Close(ctx, "NIFTY50/INR"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
	pos, ok := e.book.Get("NIFTY50/INR")
	if !ok || pos.Status != ledger.StatusExitPending {
		t.Errorf("position = %+v, want EXIT_PENDING", pos)
	}
}

func TestCloseDefiniteFailureReopens(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.closeErr = &common.PermanentError{Op: "close", Reason: "market order blocked"}

	_, err := e.Close(ctx, "NIFTY50/INR")
	var exitErr *ExitFailedError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want ExitFailedError", err)
	}
	pos, _ := e.book.Get("NIFTY50/INR")
	if pos.Status != ledger.StatusOpen {
		t.Errorf("status = %s, want OPEN after definite failure", pos.Status)
	}
}

func TestCloseUnknownPair(t *testing.T) {
	e := newTestEngine(t, &fakeClient{price: 24000})
	if _, err := e.Close(context.Background(), "NIFTY50/INR"); !errors.Is(err, ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
}

func TestReconcileAdoptsBackendPosition(t *testing.T) {
	client := &fakeClient{price: 24000}
	client.positions = []common.BrokerPosition{
		{Symbol: "NIFTY50", Venue: "NSE", Quantity: 50, AvgPrice: 23900},
	}
	e := newTestEngine(t, client)

	report, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Adopted != 1 || report.Reaped != 0 || report.Corrected != 0 {
		t.Errorf("report = %+v", report)
	}
	pos, ok := e.book.Get("NIFTY50/INR")
	if !ok {
		t.Fatal("backend position not adopted")
	}
	if pos.Side != "BUY" || pos.Quantity != 50 || pos.EntryPrice != 23900 {
		t.Errorf("adopted = %+v", pos)
	}
}

func TestReconcileAdoptsShortWithoutAvgPrice(t *testing.T) {
	client := &fakeClient{price: 21000}
	client.positions = []common.BrokerPosition{
		{Symbol: "FINNIFTY", Venue: "NSE", Quantity: -25},
	}
	e := newTestEngine(t, client)

	if _, err := e.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	pos, ok := e.book.Get("FINNIFTY/INR")
	if !ok {
		t.Fatal("short position not adopted")
	}
	if pos.Side != "SELL" || pos.Quantity != 25 {
		t.Errorf("adopted = %+v", pos)
	}
	if pos.EntryPrice != 21000 {
		t.Errorf("entry = %v, want current price fallback", pos.EntryPrice)
	}
}

func TestReconcileReapsAndCorrects(t *testing.T) {
	client := &fakeClient{price: 24000}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Open(ctx, "BANKNIFTY/INR", common.SideBuy, 360_000); err != nil {
		t.Fatal(err)
	}

	// Backend dropped NIFTY entirely and halved BANKNIFTY.
	client.positions = []common.BrokerPosition{
		{Symbol: "BANKNIFTY", Venue: "NSE", Quantity: 15, AvgPrice: 24000},
	}
	// Drift: local says 15, pretend backend reports fewer after manual exit.
	client.positions[0].Quantity = 5

	report, err := e.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reaped != 1 || report.Corrected != 1 {
		t.Errorf("report = %+v, want 1 reaped and 1 corrected", report)
	}
	if _, ok := e.book.Get("NIFTY50/INR"); ok {
		t.Error("reaped position still tracked")
	}
	pos, _ := e.book.Get("BANKNIFTY/INR")
	if pos.Quantity != 5 {
		t.Errorf("corrected qty = %d, want backend's 5", pos.Quantity)
	}
}

func TestReconcileSettlesAmbiguousExit(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.closeErr = &common.TransientError{Op: "close", Err: errors.New("timeout")}
	if _, err := e.Close(ctx, "NIFTY50/INR"); !errors.Is(err, ErrAmbiguous) {
		t.Fatal("expected ambiguous exit")
	}

	t.Run("exit actually happened", func(t *testing.T) {
		client.positions = nil
		if _, err := e.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}
		if _, ok := e.book.Get("NIFTY50/INR"); ok {
			t.Error("settled exit should remove the position")
		}
	})
}

func TestReconcileReopensFailedAmbiguousExit(t *testing.T) {
	client := &fakeClient{price: 24000, nativeClose: true}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Open(ctx, "NIFTY50/INR", common.SideBuy, 1_200_000); err != nil {
		t.Fatal(err)
	}
	client.closeErr = &common.TransientError{Op: "close", Err: errors.New("timeout")}
	if _, err := e.Close(ctx, "NIFTY50/INR"); !errors.Is(err, ErrAmbiguous) {
		t.Fatal("expected ambiguous exit")
	}

	// Backend still holds the position: the exit never happened.
	client.positions = []common.BrokerPosition{
		{Symbol: "NIFTY50", Venue: "NSE", Quantity: 50, AvgPrice: 24000},
	}
	if _, err := e.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	pos, ok := e.book.Get("NIFTY50/INR")
	if !ok || pos.Status != ledger.StatusOpen {
		t.Errorf("position = %+v, want reopened", pos)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	client := &fakeClient{price: 24000}
	client.positions = []common.BrokerPosition{
		{Symbol: "NIFTY50", Venue: "NSE", Quantity: 50, AvgPrice: 23900},
	}
	e := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := e.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	report, err := e.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Adopted != 0 || report.Reaped != 0 || report.Corrected != 0 {
		t.Errorf("second pass should be a no-op, got %+v", report)
	}
}
