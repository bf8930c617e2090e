package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantari/tradecore/internal/domain"
)

// PositionService is what the position endpoints need from the service
// layer.
type PositionService interface {
	OpenPosition(ctx context.Context, params domain.PositionParams) (*domain.Position, error)
	GetPosition(ctx context.Context, id string) (*domain.Position, error)
	ListOpen(ctx context.Context) ([]*domain.Position, error)
	ListByStrategy(ctx context.Context, strategy string, opts domain.ListOpts) ([]*domain.Position, error)
	ClosePosition(ctx context.Context, id string, exitPrice domain.Price, fees domain.Amount, reason domain.ExitReason) (*domain.Position, error)
	UpdateStops(ctx context.Context, id string, stopLoss, takeProfit *domain.Price) (*domain.Position, error)
	UnrealizedPnL(ctx context.Context, id string) (domain.Amount, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type openPositionRequest struct {
	Pair         string `json:"pair"`
	Side         string `json:"side"`
	EntryPrice   string `json:"entryPrice"`
	StopLoss     string `json:"stopLoss"`
	TakeProfit   string `json:"takeProfit"`
	Size         string `json:"size"`
	Strategy     string `json:"strategy,omitempty"`
	Agent        string `json:"agent,omitempty"`
	EntryOrderID string `json:"entryOrderId,omitempty"`
}

type closePositionRequest struct {
	ExitPrice string `json:"exitPrice"`
	Fees      string `json:"fees,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type updateStopsRequest struct {
	StopLoss   string `json:"stopLoss,omitempty"`
	TakeProfit string `json:"takeProfit,omitempty"`
}

type listPositionsResponse struct {
	Positions []domain.PositionState `json:"positions"`
}

// OpenPosition records a new position intent.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.positions.OpenPosition(r.Context(), params)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos.State())
}

func (req openPositionRequest) toParams() (domain.PositionParams, error) {
	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		return domain.PositionParams{}, err
	}
	side, err := domain.ParsePositionSide(req.Side)
	if err != nil {
		return domain.PositionParams{}, err
	}
	entry, err := domain.NewPriceFromString(req.EntryPrice, pair)
	if err != nil {
		return domain.PositionParams{}, err
	}
	stop, err := domain.NewPriceFromString(req.StopLoss, pair)
	if err != nil {
		return domain.PositionParams{}, err
	}
	target, err := domain.NewPriceFromString(req.TakeProfit, pair)
	if err != nil {
		return domain.PositionParams{}, err
	}
	size, err := domain.NewAmountFromString(req.Size, pair.Base())
	if err != nil {
		return domain.PositionParams{}, err
	}
	return domain.PositionParams{
		Pair:         pair,
		Side:         side,
		EntryPrice:   entry,
		StopLoss:     stop,
		TakeProfit:   target,
		Size:         size,
		Strategy:     req.Strategy,
		Agent:        req.Agent,
		EntryOrderID: req.EntryOrderID,
	}, nil
}

// ListPositions returns open positions, or a strategy's positions when the
// strategy query parameter is present.
// GET /api/positions?strategy=momentum&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []*domain.Position
		err       error
	)
	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		positions, err = h.positions.ListByStrategy(r.Context(), strategy, parseListOpts(r))
	} else {
		positions, err = h.positions.ListOpen(r.Context())
	}
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list positions", err)
		return
	}

	resp := listPositionsResponse{Positions: make([]domain.PositionState, 0, len(positions))}
	for _, pos := range positions {
		resp.Positions = append(resp.Positions, pos.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos.State())
}

// GetUnrealizedPnL values an open position at the current mark.
// GET /api/positions/{id}/pnl
func (h *PositionHandler) GetUnrealizedPnL(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pnl, err := h.positions.UnrealizedPnL(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "unrealized pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"positionId":    id,
		"unrealizedPnl": pnl.String(),
	})
}

// ClosePosition settles a position at the given exit price.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get position", err)
		return
	}
	pair := pos.Pair()

	exit, err := domain.NewPriceFromString(req.ExitPrice, pair)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fees := domain.ZeroAmount(pair.Quote())
	if req.Fees != "" {
		fees, err = domain.NewAmountFromString(req.Fees, pair.Quote())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	reason := domain.ExitReasonManual
	if req.Reason != "" {
		reason, err = domain.ParseExitReason(req.Reason)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	closed, err := h.positions.ClosePosition(r.Context(), id, exit, fees, reason)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, closed.State())
}

// UpdateStops moves one or both protective levels.
// PUT /api/positions/{id}/stops
func (h *PositionHandler) UpdateStops(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	var req updateStopsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.StopLoss == "" && req.TakeProfit == "" {
		writeError(w, http.StatusBadRequest, "stopLoss or takeProfit required")
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get position", err)
		return
	}
	pair := pos.Pair()

	var stopLoss, takeProfit *domain.Price
	if req.StopLoss != "" {
		p, perr := domain.NewPriceFromString(req.StopLoss, pair)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		stopLoss = &p
	}
	if req.TakeProfit != "" {
		p, perr := domain.NewPriceFromString(req.TakeProfit, pair)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		takeProfit = &p
	}

	updated, err := h.positions.UpdateStops(r.Context(), id, stopLoss, takeProfit)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "update stops", err)
		return
	}
	writeJSON(w, http.StatusOK, updated.State())
}
