package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantari/tradecore/internal/domain"
)

// AccountService is what the balance endpoints need from the service layer.
type AccountService interface {
	GetBalance(ctx context.Context, asset domain.Asset) (domain.Balance, error)
	ListBalances(ctx context.Context) ([]domain.Balance, error)
	Deposit(ctx context.Context, amount domain.Amount) (domain.Balance, error)
	Withdraw(ctx context.Context, amount domain.Amount) (domain.Balance, error)
	SyncWithExchange(ctx context.Context) ([]domain.Balance, error)
}

// BalanceHandler serves balance endpoints.
type BalanceHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(accounts AccountService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{accounts: accounts, logger: logger}
}

type adjustBalanceRequest struct {
	Amount string `json:"amount"`
}

type listBalancesResponse struct {
	Balances []domain.BalanceState `json:"balances"`
}

// ListBalances returns every tracked balance.
// GET /api/balances
func (h *BalanceHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.accounts.ListBalances(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list balances", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceList(balances))
}

// GetBalance returns one asset's balance; assets never seen report zero.
// GET /api/balances/{asset}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := assetParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := h.accounts.GetBalance(r.Context(), asset)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal.State())
}

// Deposit credits available funds for an asset.
// POST /api/balances/{asset}/deposit
func (h *BalanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "deposit", h.accounts.Deposit)
}

// Withdraw removes available funds for an asset.
// POST /api/balances/{asset}/withdraw
func (h *BalanceHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "withdraw", h.accounts.Withdraw)
}

func (h *BalanceHandler) adjust(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(context.Context, domain.Amount) (domain.Balance, error),
) {
	asset, err := assetParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := domain.NewAmountFromString(req.Amount, asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := apply(r.Context(), amount)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, bal.State())
}

// SyncBalances reconciles local balances against the exchange account.
// POST /api/balances/sync
func (h *BalanceHandler) SyncBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.accounts.SyncWithExchange(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "sync balances", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceList(balances))
}

func assetParam(r *http.Request) (domain.Asset, error) {
	return domain.AssetFromSymbol(pathParam(r, "asset"))
}

func balanceList(balances []domain.Balance) listBalancesResponse {
	resp := listBalancesResponse{Balances: make([]domain.BalanceState, 0, len(balances))}
	for _, bal := range balances {
		resp.Balances = append(resp.Balances, bal.State())
	}
	return resp
}
