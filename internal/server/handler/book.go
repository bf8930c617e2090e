package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quantari/tradecore/internal/domain"
)

// BookService is what the depth endpoints need from the service layer.
type BookService interface {
	Snapshot(ctx context.Context, pair domain.TradingPair) (*domain.OrderBookSnapshot, error)
	TopOfBook(ctx context.Context, pair domain.TradingPair) (bid, ask domain.OrderBookLevel, err error)
	EstimateBuy(ctx context.Context, pair domain.TradingPair, size domain.Amount, strict bool) (domain.MarketOrderEstimate, error)
	EstimateSell(ctx context.Context, pair domain.TradingPair, size domain.Amount, strict bool) (domain.MarketOrderEstimate, error)
}

// BookHandler serves order-book endpoints.
type BookHandler struct {
	books  BookService
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookService, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

type topOfBookResponse struct {
	Pair string                     `json:"pair"`
	Bid  domain.OrderBookLevelState `json:"bid"`
	Ask  domain.OrderBookLevelState `json:"ask"`
}

// GetBook returns the latest depth snapshot for a pair.
// GET /api/book?pair=BTC/USDT
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	pair, err := pairParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.books.Snapshot(r.Context(), pair)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get book", err)
		return
	}
	writeJSON(w, http.StatusOK, snap.State())
}

// GetTopOfBook returns the best bid and ask for a pair.
// GET /api/book/top?pair=BTC/USDT
func (h *BookHandler) GetTopOfBook(w http.ResponseWriter, r *http.Request) {
	pair, err := pairParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, ask, err := h.books.TopOfBook(r.Context(), pair)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "top of book", err)
		return
	}
	writeJSON(w, http.StatusOK, topOfBookResponse{
		Pair: pair.Symbol(),
		Bid:  levelState(bid),
		Ask:  levelState(ask),
	})
}

// EstimateOrder simulates a market order against the cached ladder.
// GET /api/book/estimate?pair=BTC/USDT&side=BUY&size=0.5&strict=false
func (h *BookHandler) EstimateOrder(w http.ResponseWriter, r *http.Request) {
	pair, err := pairParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()

	size, err := domain.NewAmountFromString(q.Get("size"), pair.Base())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	strict := false
	if v := q.Get("strict"); v != "" {
		strict, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "strict must be a boolean")
			return
		}
	}

	var est domain.MarketOrderEstimate
	switch strings.ToUpper(q.Get("side")) {
	case string(domain.OrderSideBuy):
		est, err = h.books.EstimateBuy(r.Context(), pair, size, strict)
	case string(domain.OrderSideSell):
		est, err = h.books.EstimateSell(r.Context(), pair, size, strict)
	default:
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "estimate order", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func levelState(lvl domain.OrderBookLevel) domain.OrderBookLevelState {
	return domain.OrderBookLevelState{
		Price:    json.Number(lvl.Price().Decimal().String()),
		Quantity: json.Number(lvl.Quantity().Decimal().String()),
	}
}
