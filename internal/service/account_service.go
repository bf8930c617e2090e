package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantari/tradecore/internal/domain"
)

// BalanceFetcher pulls the authoritative per-asset balances from the
// exchange account endpoint.
type BalanceFetcher interface {
	GetBalances(ctx context.Context) ([]domain.Balance, error)
}

// AccountService manages per-asset balances: deposits and withdrawals plus
// the reserve/release/settle flow that order placement drives. Every
// mutation runs under the asset's balance lock so concurrent writers cannot
// lose updates.
type AccountService struct {
	balances domain.BalanceStore
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	exchange BalanceFetcher
	logger   *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(
	balances domain.BalanceStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		balances: balances,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		logger:   logger,
	}
}

// WithExchange attaches a balance fetcher so SyncWithExchange can reconcile
// the local ledger against the exchange account. Without one, the ledger is
// maintained purely by local mutations.
func (s *AccountService) WithExchange(fetcher BalanceFetcher) *AccountService {
	s.exchange = fetcher
	return s
}

// GetBalance returns the balance for one asset. Assets that were never
// funded report a zero balance rather than an error.
func (s *AccountService) GetBalance(ctx context.Context, asset domain.Asset) (domain.Balance, error) {
	bal, err := s.balances.Get(ctx, asset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewBalance(asset)
		}
		return domain.Balance{}, fmt.Errorf("account_service: get balance %s: %w", asset.Symbol(), err)
	}
	return bal, nil
}

// ListBalances returns every balance on record.
func (s *AccountService) ListBalances(ctx context.Context) ([]domain.Balance, error) {
	balances, err := s.balances.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("account_service: list balances: %w", err)
	}
	return balances, nil
}

// Deposit credits available funds.
func (s *AccountService) Deposit(ctx context.Context, amount domain.Amount) (domain.Balance, error) {
	return s.mutate(ctx, "deposit", amount, "", domain.Balance.Deposit)
}

// Withdraw debits available funds.
func (s *AccountService) Withdraw(ctx context.Context, amount domain.Amount) (domain.Balance, error) {
	return s.mutate(ctx, "withdraw", amount, "", domain.Balance.Withdraw)
}

// Reserve moves available funds into the reserved leg ahead of an order.
// The order ID is carried into the audit trail and the published event.
func (s *AccountService) Reserve(ctx context.Context, amount domain.Amount, orderID string) (domain.Balance, error) {
	return s.mutate(ctx, "reserve", amount, orderID, domain.Balance.Reserve)
}

// Release returns reserved funds to the available leg after a cancel or
// reject.
func (s *AccountService) Release(ctx context.Context, amount domain.Amount, orderID string) (domain.Balance, error) {
	return s.mutate(ctx, "release", amount, orderID, domain.Balance.Release)
}

// Settle consumes reserved funds once the matching order fills.
func (s *AccountService) Settle(ctx context.Context, amount domain.Amount, orderID string) (domain.Balance, error) {
	return s.mutate(ctx, "settle", amount, orderID, domain.Balance.Settle)
}

// SyncWithExchange overwrites the local ledger with the exchange account
// balances. The exchange is the custodian of record, so this wins over any
// local state, including reservations.
func (s *AccountService) SyncWithExchange(ctx context.Context) ([]domain.Balance, error) {
	if s.exchange == nil {
		return nil, errors.New("account_service: sync: no exchange attached")
	}

	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("account_service: fetch exchange balances: %w", err)
	}

	for _, bal := range balances {
		unlock, err := s.locks.Acquire(ctx, "balance:"+bal.Asset().Symbol(), lockTTL)
		if err != nil {
			return nil, fmt.Errorf("account_service: lock balance %s: %w", bal.Asset().Symbol(), err)
		}
		saveErr := s.balances.Save(ctx, bal)
		unlock()
		if saveErr != nil {
			return nil, fmt.Errorf("account_service: save balance %s: %w", bal.Asset().Symbol(), saveErr)
		}
	}

	s.auditLog(ctx, "balance.sync", "", map[string]any{
		"assets": len(balances),
	})

	s.logger.InfoContext(ctx, "account_service: balances synced from exchange",
		slog.Int("assets", len(balances)),
	)
	return balances, nil
}

// mutate applies one balance transition under the asset lock, persists the
// result, and announces the change.
func (s *AccountService) mutate(
	ctx context.Context,
	op string,
	amount domain.Amount,
	orderID string,
	apply func(domain.Balance, domain.Amount) (domain.Balance, error),
) (domain.Balance, error) {
	asset := amount.Asset()

	unlock, err := s.locks.Acquire(ctx, "balance:"+asset.Symbol(), lockTTL)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("account_service: lock balance %s: %w", asset.Symbol(), err)
	}
	defer unlock()

	bal, err := s.balances.Get(ctx, asset)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Balance{}, fmt.Errorf("account_service: get balance %s: %w", asset.Symbol(), err)
		}
		bal, err = domain.NewBalance(asset)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("account_service: new balance %s: %w", asset.Symbol(), err)
		}
	}

	updated, err := apply(bal, amount)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("account_service: %s %s: %w", op, asset.Symbol(), err)
	}

	if err := s.balances.Save(ctx, updated); err != nil {
		return domain.Balance{}, fmt.Errorf("account_service: save balance %s: %w", asset.Symbol(), err)
	}

	detail := map[string]any{
		"op":        op,
		"amount":    amount.String(),
		"available": updated.Available().String(),
		"reserved":  updated.Reserved().String(),
	}
	eventDetail := map[string]string{
		"op":        op,
		"amount":    amount.String(),
		"available": updated.Available().String(),
		"reserved":  updated.Reserved().String(),
	}
	if orderID != "" {
		detail["order_id"] = orderID
		eventDetail["orderId"] = orderID
	}

	s.auditLog(ctx, "balance."+op, asset.Symbol(), detail)
	s.publish(ctx, domain.Event{
		Type:     domain.EventBalanceUpdated,
		EntityID: asset.Symbol(),
		Actor:    "account_service",
		Detail:   eventDetail,
	})

	s.logger.InfoContext(ctx, "account_service: balance updated",
		slog.String("op", op),
		slog.String("asset", asset.Symbol()),
		slog.String("amount", amount.String()),
		slog.String("available", updated.Available().String()),
		slog.String("reserved", updated.Reserved().String()),
	)
	return updated, nil
}

func (s *AccountService) publish(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "account_service: publish event failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AccountService) auditLog(ctx context.Context, action, entityID string, detail map[string]any) {
	entry := domain.AuditEntry{
		Actor:     "account_service",
		Action:    action,
		Entity:    "balance",
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
