package zerodha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"broker-core/pkg/brokers/common"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := New(Config{APIKey: "key", AccessToken: "token", BaseURL: srv.URL})
	return c, srv
}

func TestSubmitOrderSendsKiteForm(t *testing.T) {
	var gotAuth, gotVersion string
	var gotForm map[string]string

	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders/regular":
			gotAuth = r.Header.Get("Authorization")
			gotVersion = r.Header.Get("X-Kite-Version")
			_ = r.ParseForm()
			gotForm = map[string]string{}
			for k := range r.PostForm {
				gotForm[k] = r.PostForm.Get(k)
			}
			w.Write([]byte(`{"status":"success","data":{"order_id":"240831000001"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/orders/240831000001":
			w.Write([]byte(`{"data":[{"status":"COMPLETE","average_price":24012.5}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	defer srv.Close()

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "NIFTY 50", Venue: "NSE", Side: common.SideBuy,
		Kind: common.KindMarket, Quantity: 50, Product: common.ProductIntraday,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotAuth != "token key:token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotVersion != "3" {
		t.Errorf("X-Kite-Version = %q", gotVersion)
	}
	if gotForm["tradingsymbol"] != "NIFTY 50" || gotForm["exchange"] != "NSE" {
		t.Errorf("instrument fields = %v", gotForm)
	}
	if gotForm["transaction_type"] != "BUY" || gotForm["order_type"] != "MARKET" {
		t.Errorf("order fields = %v", gotForm)
	}
	if gotForm["quantity"] != "50" || gotForm["product"] != "MIS" || gotForm["validity"] != "DAY" {
		t.Errorf("sizing fields = %v", gotForm)
	}
	if res.OrderID != "240831000001" || res.Status != common.StatusFilled || res.Price != 24012.5 {
		t.Errorf("result = %+v", res)
	}
}

func TestStopOrderCarriesTriggerPrice(t *testing.T) {
	var trigger, orderType string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			trigger = r.PostForm.Get("trigger_price")
			orderType = r.PostForm.Get("order_type")
			w.Write([]byte(`{"data":{"order_id":"1"}}`))
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	defer srv.Close()

	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "NIFTY 50", Venue: "NSE", Side: common.SideSell,
		Kind: common.KindStop, Quantity: 50, TriggerPrice: 23520.4,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if orderType != "SL-M" {
		t.Errorf("order_type = %q, want SL-M", orderType)
	}
	if trigger != "23520.40" {
		t.Errorf("trigger_price = %q, want 23520.40", trigger)
	}
}

func TestRejectionCarriesKiteMessage(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"RMS:Blocked for margin","error_type":"InputException"}`))
	})
	defer srv.Close()

	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "NIFTY 50", Venue: "NSE", Side: common.SideBuy,
		Kind: common.KindMarket, Quantity: 50,
	})
	var perm *common.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("err = %v, want PermanentError", err)
	}
	if perm.Reason != "RMS:Blocked for margin" {
		t.Errorf("reason = %q", perm.Reason)
	}
}

func TestRejectedFillCarriesStatusMessage(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"data":{"order_id":"240831000002"}}`))
			return
		}
		w.Write([]byte(`{"data":[
			{"status":"OPEN PENDING","average_price":0},
			{"status":"REJECTED","status_message":"RMS:Margin Exceeds","average_price":0}
		]}`))
	})
	defer srv.Close()

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "NIFTY 50", Venue: "NSE", Side: common.SideBuy,
		Kind: common.KindMarket, Quantity: 50,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != common.StatusRejected {
		t.Errorf("status = %q, want REJECTED", res.Status)
	}
	if res.Reason != "RMS:Margin Exceeds" {
		t.Errorf("reason = %q, want RMS message", res.Reason)
	}
}

func TestSubmitPollTakesLimiterToken(t *testing.T) {
	limiter := common.NewRateLimiter(common.PaperLimits())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"data":{"order_id":"1"}}`))
			return
		}
		w.Write([]byte(`{"data":[{"status":"COMPLETE","average_price":24000}]}`))
	}))
	defer srv.Close()
	c := New(Config{APIKey: "key", AccessToken: "token", BaseURL: srv.URL, Limiter: limiter})

	if _, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "NIFTY 50", Venue: "NSE", Side: common.SideBuy,
		Kind: common.KindMarket, Quantity: 50,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The caller pays for the placement; the status poll pays for itself.
	if got := limiter.Stats().Requests; got != 1 {
		t.Errorf("limiter requests = %d, want 1 for the poll", got)
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		_, err := c.GetPrice(context.Background(), "NIFTY 50", "NSE")
		srv.Close()
		if !common.IsTransient(err) {
			t.Errorf("http %d: err = %v, want transient", code, err)
		}
	}
}

func TestListPositionsParsesNetBook(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/positions" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":{"net":[
			{"tradingsymbol":"NIFTY 50","exchange":"NSE","quantity":-50,"average_price":24100,"last_price":24050,"product":"MIS"}
		]}}`))
	})
	defer srv.Close()

	positions, err := c.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions", len(positions))
	}
	p := positions[0]
	if p.Quantity != -50 || p.AvgPrice != 24100 || p.Product != common.ProductIntraday {
		t.Errorf("position = %+v", p)
	}
}

func TestGetPriceUsesLTPEndpoint(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote/ltp" || r.URL.Query().Get("i") != "NSE:NIFTY 50" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":{"NSE:NIFTY 50":{"last_price":24321.7}}}`))
	})
	defer srv.Close()

	price, err := c.GetPrice(context.Background(), "NIFTY 50", "NSE")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if price != 24321.7 {
		t.Errorf("price = %v", price)
	}
}
