package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quantari/tradecore/internal/crypto"
	"github.com/quantari/tradecore/internal/domain"
)

func testSigner() *crypto.RequestSigner {
	return &crypto.RequestSigner{Key: "test-key", Secret: "test-secret"}
}

func mustPair(t *testing.T, symbol string) domain.TradingPair {
	t.Helper()
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		t.Fatal(err)
	}
	return pair
}

func TestClient_PlaceOrder(t *testing.T) {
	signer := testSigner()

	var gotReq OrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/orders" {
			t.Errorf("Expected /api/v1/orders, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("recvWindow"); got != "5000" {
			t.Errorf("Expected recvWindow=5000, got %q", got)
		}

		body, _ := io.ReadAll(r.Body)

		// The signature covers timestamp + method + full path + body.
		ts := r.Header.Get("X-API-TIMESTAMP")
		want := signer.SignQuery(ts + r.Method + r.URL.RequestURI() + string(body))
		if got := r.Header.Get("X-API-SIGNATURE"); got != want {
			t.Errorf("Signature mismatch: got %s, want %s", got, want)
		}
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			t.Errorf("Expected api key header, got %q", got)
		}

		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("Body is not an order request: %v", err)
		}

		json.NewEncoder(w).Encode(OrderAck{
			ExchangeOrderID: "ex-777",
			ClientOrderID:   gotReq.ClientOrderID,
			Pair:            gotReq.Pair,
			Status:          "NEW",
			TransactTime:    1700000000000,
		})
	}))
	defer srv.Close()

	pair := mustPair(t, "BTC/USDT")
	qty, err := domain.NewAmountFromString("0.5", pair.Base())
	if err != nil {
		t.Fatal(err)
	}
	order, err := domain.NewOrder("ord-1", domain.OrderParams{
		Pair:     pair,
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		t.Fatal(err)
	}

	client := NewClient(srv.URL, signer)
	ack, err := client.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	if ack.ExchangeOrderID != "ex-777" {
		t.Errorf("Expected exchange order id ex-777, got %s", ack.ExchangeOrderID)
	}
	if gotReq.ClientOrderID != "ord-1" || gotReq.Side != "BUY" || gotReq.Quantity != "0.5" {
		t.Errorf("Unexpected wire request: %+v", gotReq)
	}
	if got := ack.TransactedAt(); !got.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("Unexpected transact time %v", got)
	}
}

func TestClient_PlaceOrderMissingAckID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OrderAck{Status: "NEW"})
	}))
	defer srv.Close()

	pair := mustPair(t, "BTC/USDT")
	qty, _ := domain.NewAmountFromString("1", pair.Base())
	order, err := domain.NewOrder("ord-1", domain.OrderParams{
		Pair:     pair,
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		t.Fatal(err)
	}

	client := NewClient(srv.URL, testSigner())
	if _, err := client.PlaceOrder(context.Background(), order); err == nil {
		t.Error("Expected error for ack without order id, got nil")
	}
}

func TestClient_CancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/orders/ex-42" {
			t.Errorf("Expected order path, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("pair"); got != "BTC/USDT" {
			t.Errorf("Expected pair param, got %q", got)
		}
		json.NewEncoder(w).Encode(OrderAck{ExchangeOrderID: "ex-42", Status: "CANCELLED"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSigner())
	if err := client.CancelOrder(context.Background(), mustPair(t, "BTC/USDT"), "ex-42"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
}

func TestClient_GetDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/depth" {
			t.Errorf("Expected /api/v1/depth, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("Expected limit=20, got %q", got)
		}
		// Public endpoint: no auth headers.
		if got := r.Header.Get("X-API-KEY"); got != "" {
			t.Errorf("Expected unsigned request, got key header %q", got)
		}
		json.NewEncoder(w).Encode(DepthMessage{
			Pair:      "BTC/USDT",
			Bids:      [][2]string{{"50000", "1"}},
			Asks:      [][2]string{{"50001", "2"}},
			Timestamp: 1700000000000,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	snap, err := client.GetDepth(context.Background(), mustPair(t, "BTC/USDT"), 20)
	if err != nil {
		t.Fatalf("GetDepth failed: %v", err)
	}
	if got := snap.BestBid().Price().Decimal().String(); got != "50000" {
		t.Errorf("Expected best bid 50000, got %s", got)
	}
}

func TestClient_GetDepthRejectsCrossedBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DepthMessage{
			Pair:      "BTC/USDT",
			Bids:      [][2]string{{"50002", "1"}},
			Asks:      [][2]string{{"50001", "2"}},
			Timestamp: 1700000000000,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	if _, err := client.GetDepth(context.Background(), mustPair(t, "BTC/USDT"), 0); err == nil {
		t.Error("Expected error for crossed book, got nil")
	}
}

func TestClient_GetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "1h" {
			t.Errorf("Expected interval=1h, got %q", got)
		}
		json.NewEncoder(w).Encode([]KlineMessage{
			{Pair: "ETH/USDT", Interval: "1h", OpenTime: 1700000000000, Open: "3000", High: "3010", Low: "2990", Close: "3005", Volume: "12", Closed: true},
			{Pair: "ETH/USDT", Interval: "1h", OpenTime: 1700003600000, Open: "3005", High: "3020", Low: "3000", Close: "3015", Volume: "8", Closed: true},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	candles, err := client.GetKlines(context.Background(), mustPair(t, "ETH/USDT"), domain.Timeframe1h, 2)
	if err != nil {
		t.Fatalf("GetKlines failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if got := candles[1].Close().Decimal().String(); got != "3015" {
		t.Errorf("Expected second close 3015, got %s", got)
	}
}

func TestClient_GetBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/account" {
			t.Errorf("Expected /api/v1/account, got %s", r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			t.Errorf("Expected signed request, got key %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"balances": []APIBalance{
				{Asset: "BTC", Free: "1.5", Locked: "0.5"},
				{Asset: "USDT", Free: "10000", Locked: "0"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSigner())
	balances, err := client.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("Expected 2 balances, got %d", len(balances))
	}
	if got := balances[0].Total().Decimal().String(); got != "2" {
		t.Errorf("Expected BTC total 2, got %s", got)
	}
}

func TestClient_ServerTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"serverTime": 1700000000000})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	got, err := client.ServerTime(context.Background())
	if err != nil {
		t.Fatalf("ServerTime failed: %v", err)
	}
	if !got.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("Unexpected server time %v", got)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(APIError{Code: 1000, Message: "nope"})
			}))
			defer srv.Close()

			client := NewClient(srv.URL, testSigner())
			_, err := client.GetBalances(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_UnsignedClientRejectsPrivateCalls(t *testing.T) {
	client := NewClient("http://unused.invalid", nil)
	if _, err := client.GetBalances(context.Background()); err == nil {
		t.Error("Expected error without signer, got nil")
	}
}

// fakeLimiter denies the first denyFirst Allow calls, then grants.
type fakeLimiter struct {
	mu        sync.Mutex
	calls     int
	denyFirst int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls > f.denyFirst, nil
}

func TestClient_RateLimiterGatesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"serverTime": 1700000000000})
	}))
	defer srv.Close()

	limiter := &fakeLimiter{denyFirst: 2}
	client := NewClient(srv.URL, nil)
	client.SetRateLimiter(limiter, 10, time.Second)

	if _, err := client.ServerTime(context.Background()); err != nil {
		t.Fatalf("ServerTime failed: %v", err)
	}

	limiter.mu.Lock()
	calls := limiter.calls
	limiter.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected 3 limiter checks (2 denials then grant), got %d", calls)
	}
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	limiter := &fakeLimiter{denyFirst: 1 << 30}
	client := NewClient("http://unused.invalid", nil)
	client.SetRateLimiter(limiter, 10, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := client.ServerTime(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
