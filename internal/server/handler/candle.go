package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantari/tradecore/internal/domain"
)

// CandleSource is what the candle endpoints need from the cache layer.
type CandleSource interface {
	Recent(ctx context.Context, pair domain.TradingPair, tf domain.Timeframe, limit int) ([]domain.Candle, error)
	Latest(ctx context.Context, pair domain.TradingPair, tf domain.Timeframe) (domain.Candle, error)
}

// CandleHandler serves candle endpoints.
type CandleHandler struct {
	candles CandleSource
	logger  *slog.Logger
}

// NewCandleHandler creates a CandleHandler.
func NewCandleHandler(candles CandleSource, logger *slog.Logger) *CandleHandler {
	return &CandleHandler{candles: candles, logger: logger}
}

type listCandlesResponse struct {
	Candles []domain.CandleState `json:"candles"`
}

// ListCandles returns the most recent candles for a pair and timeframe,
// oldest first.
// GET /api/candles?pair=BTC/USDT&timeframe=1m&limit=100
func (h *CandleHandler) ListCandles(w http.ResponseWriter, r *http.Request) {
	pair, tf, err := candleQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}

	candles, err := h.candles.Recent(r.Context(), pair, tf, limit)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list candles", err)
		return
	}

	resp := listCandlesResponse{Candles: make([]domain.CandleState, 0, len(candles))}
	for _, c := range candles {
		resp.Candles = append(resp.Candles, c.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLatestCandle returns the most recent candle for a pair and timeframe.
// GET /api/candles/latest?pair=BTC/USDT&timeframe=1m
func (h *CandleHandler) GetLatestCandle(w http.ResponseWriter, r *http.Request) {
	pair, tf, err := candleQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	candle, err := h.candles.Latest(r.Context(), pair, tf)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "latest candle", err)
		return
	}
	writeJSON(w, http.StatusOK, candle.State())
}

func candleQuery(r *http.Request) (domain.TradingPair, domain.Timeframe, error) {
	pair, err := pairParam(r)
	if err != nil {
		return domain.TradingPair{}, "", err
	}
	tf, err := domain.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		return domain.TradingPair{}, "", err
	}
	return pair, tf, nil
}
