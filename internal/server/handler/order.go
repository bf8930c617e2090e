package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantari/tradecore/internal/domain"
)

// OrderService is what the order endpoints need from the service layer.
type OrderService interface {
	CreateOrder(ctx context.Context, params domain.OrderParams, actor string) (*domain.Order, error)
	SubmitOrder(ctx context.Context, id string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListActive(ctx context.Context) ([]*domain.Order, error)
	ListByPair(ctx context.Context, pair domain.TradingPair, opts domain.ListOpts) ([]*domain.Order, error)
}

// OrderHandler serves order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type placeOrderRequest struct {
	Pair      string `json:"pair"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Quantity  string `json:"quantity"`
	StopPrice string `json:"stopPrice,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

type listOrdersResponse struct {
	Orders []domain.OrderState `json:"orders"`
}

// PlaceOrder creates an order and hands it to the venue in one step.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	order, err := h.orders.CreateOrder(r.Context(), params, actor)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "place order", err)
		return
	}
	order, err = h.orders.SubmitOrder(r.Context(), order.ID())
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "submit order", err)
		return
	}

	writeJSON(w, http.StatusCreated, order.State())
}

func (req placeOrderRequest) toParams() (domain.OrderParams, error) {
	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		return domain.OrderParams{}, err
	}
	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		return domain.OrderParams{}, err
	}
	quantity, err := domain.NewAmountFromString(req.Quantity, pair.Base())
	if err != nil {
		return domain.OrderParams{}, err
	}

	orderType := domain.OrderTypeMarket
	if req.Type != "" {
		orderType, err = domain.ParseOrderType(req.Type)
		if err != nil {
			return domain.OrderParams{}, err
		}
	}
	params := domain.OrderParams{
		Pair:     pair,
		Side:     side,
		Type:     orderType,
		Quantity: quantity,
	}
	if req.StopPrice != "" {
		stop, err := domain.NewPriceFromString(req.StopPrice, pair)
		if err != nil {
			return domain.OrderParams{}, err
		}
		params.StopPrice = &stop
	}
	return params, nil
}

// ListOrders returns active orders, or a pair's order history when the pair
// query parameter is present.
// GET /api/orders?pair=BTC/USDT&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []*domain.Order
		err    error
	)
	if r.URL.Query().Get("pair") != "" {
		pair, perr := pairParam(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		orders, err = h.orders.ListByPair(r.Context(), pair, parseListOpts(r))
	} else {
		orders, err = h.orders.ListActive(r.Context())
	}
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list orders", err)
		return
	}

	resp := listOrdersResponse{Orders: make([]domain.OrderState, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, order.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns one order with its fills.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order.State())
}

// CancelOrder cancels an active order and returns its terminal state.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, order.State())
}
