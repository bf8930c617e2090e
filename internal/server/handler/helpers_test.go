package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quantari/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPair(t *testing.T, symbol string) domain.TradingPair {
	t.Helper()
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		t.Fatalf("ParsePair(%q) failed: %v", symbol, err)
	}
	return pair
}

func mustPrice(t *testing.T, value string, pair domain.TradingPair) domain.Price {
	t.Helper()
	price, err := domain.NewPriceFromString(value, pair)
	if err != nil {
		t.Fatalf("NewPriceFromString(%q) failed: %v", value, err)
	}
	return price
}

func mustAmount(t *testing.T, value string, asset domain.Asset) domain.Amount {
	t.Helper()
	amount, err := domain.NewAmountFromString(value, asset)
	if err != nil {
		t.Fatalf("NewAmountFromString(%q) failed: %v", value, err)
	}
	return amount
}

// request builds an httptest request with optional JSON body and path values.
func request(method, target, body string, pathValues map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, reader)
	for name, value := range pathValues {
		r.SetPathValue(name, value)
	}
	return r
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Expected JSON content type, got %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"already exists", domain.ErrAlreadyExists, http.StatusConflict},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"insufficient liquidity", domain.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"invalid value", domain.ErrInvalidValue, http.StatusBadRequest},
		{"invalid operation", domain.ErrInvalidOperation, http.StatusBadRequest},
		{"entity validation", domain.ErrEntityValidation, http.StatusBadRequest},
		{"unknown", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("order service: %w", tt.err)
			if got := statusFor(wrapped); got != tt.want {
				t.Errorf("Expected status %d for %v, got %d", tt.want, tt.err, got)
			}
		})
	}
}

func TestWriteServiceError_MasksInternalFailures(t *testing.T) {
	rec := httptest.NewRecorder()
	r := request(http.MethodGet, "/api/orders/ord-1", "", nil)

	writeServiceError(r.Context(), rec, testLogger(), "get order", errors.New("pg: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
	if msg := decodeErrorBody(t, rec); msg != "internal server error" {
		t.Errorf("Expected masked error body, got %q", msg)
	}
	if strings.Contains(rec.Body.String(), "pg:") {
		t.Errorf("Expected backend detail to stay out of the response, got %q", rec.Body.String())
	}
}

func TestWriteServiceError_SurfacesClientFailures(t *testing.T) {
	rec := httptest.NewRecorder()
	r := request(http.MethodGet, "/api/orders/ord-1", "", nil)

	err := fmt.Errorf("order service: %w", domain.ErrNotFound)
	writeServiceError(r.Context(), rec, testLogger(), "get order", err)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}
	if msg := decodeErrorBody(t, rec); !strings.Contains(msg, "not found") {
		t.Errorf("Expected error detail in body, got %q", msg)
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=10&offset=20", 10, 20},
		{"capped", "limit=9000", 500, 0},
		{"ignores garbage", "limit=abc&offset=-3", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := request(http.MethodGet, "/api/orders?"+tt.query, "", nil)
			opts := parseListOpts(r)
			if opts.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, opts.Limit)
			}
			if opts.Offset != tt.wantOffset {
				t.Errorf("Expected offset %d, got %d", tt.wantOffset, opts.Offset)
			}
		})
	}
}

func TestPairParam(t *testing.T) {
	r := request(http.MethodGet, "/api/book?pair=BTC/USDT", "", nil)
	pair, err := pairParam(r)
	if err != nil {
		t.Fatalf("pairParam failed: %v", err)
	}
	if pair.Symbol() != "BTC/USDT" {
		t.Errorf("Expected BTC/USDT, got %s", pair.Symbol())
	}

	r = request(http.MethodGet, "/api/book", "", nil)
	if _, err := pairParam(r); err == nil {
		t.Error("Expected an error when the pair parameter is missing")
	}
}
