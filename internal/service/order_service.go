package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/exchange"
)

// OrderPlacer submits and cancels orders on the exchange.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order *domain.Order) (exchange.OrderAck, error)
	CancelOrder(ctx context.Context, pair domain.TradingPair, exchangeOrderID string) error
}

// OrderService drives the order lifecycle: creation through submission,
// fills, and the terminal states. Sell orders reserve their base quantity
// at creation; the reservation settles fill by fill and any unfilled
// remainder is released when the order terminates. Buy orders are not
// reserved because the quote cost is unknown until fills arrive; the
// pre-trade check gates their coverage instead.
type OrderService struct {
	orders   domain.OrderStore
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	exchange OrderPlacer
	accounts *AccountService
	risk     *RiskService
	logger   *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders: orders,
		locks:  locks,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// WithExchange attaches an order placer so Submit and Cancel reach the
// exchange. Without one the service runs in local-only mode, useful for
// testing and paper trading.
func (s *OrderService) WithExchange(placer OrderPlacer) *OrderService {
	s.exchange = placer
	return s
}

// WithAccounts attaches the account service that tracks sell-side
// reservations.
func (s *OrderService) WithAccounts(accounts *AccountService) *OrderService {
	s.accounts = accounts
	return s
}

// WithRiskService attaches pre-trade checks to CreateOrder.
func (s *OrderService) WithRiskService(risk *RiskService) *OrderService {
	s.risk = risk
	return s
}

// CreateOrder validates the request against the risk limits, reserves
// funds for sells, and persists a new PENDING order.
func (s *OrderService) CreateOrder(ctx context.Context, params domain.OrderParams, actor string) (*domain.Order, error) {
	if s.risk != nil {
		if err := s.risk.CheckOrder(ctx, params); err != nil {
			return nil, fmt.Errorf("order_service: pre-trade check: %w", err)
		}
	}

	id := uuid.NewString()
	order, err := domain.NewOrder(id, params)
	if err != nil {
		return nil, fmt.Errorf("order_service: new order: %w", err)
	}

	reserved := false
	if s.accounts != nil && params.Side == domain.OrderSideSell {
		if _, err := s.accounts.Reserve(ctx, params.Quantity, id); err != nil {
			return nil, fmt.Errorf("order_service: reserve funds: %w", err)
		}
		reserved = true
	}

	if err := s.orders.Save(ctx, order); err != nil {
		if reserved {
			s.releaseReservation(ctx, id, params.Quantity)
		}
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}

	s.auditLog(ctx, "order.create", id, map[string]any{
		"pair":     params.Pair.Symbol(),
		"side":     string(params.Side),
		"type":     string(params.Type),
		"quantity": params.Quantity.String(),
		"reserved": reserved,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventOrderCreated,
		Pair:     params.Pair.Symbol(),
		EntityID: id,
		Actor:    actor,
		Detail: map[string]string{
			"side":     string(params.Side),
			"type":     string(params.Type),
			"quantity": params.Quantity.String(),
		},
	})

	s.logger.InfoContext(ctx, "order_service: order created",
		slog.String("order_id", id),
		slog.String("pair", params.Pair.Symbol()),
		slog.String("side", string(params.Side)),
		slog.String("type", string(params.Type)),
		slog.String("quantity", params.Quantity.String()),
	)
	return order, nil
}

// SubmitOrder sends a PENDING order to the exchange and records the
// acknowledged exchange order ID. In local-only mode a synthetic ID is
// assigned instead. An exchange rejection marks the order FAILED.
func (s *OrderService) SubmitOrder(ctx context.Context, id string) (*domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock order %q: %w", id, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	exchangeOrderID := "local-" + id
	if s.exchange != nil {
		ack, ackErr := s.exchange.PlaceOrder(ctx, order)
		if ackErr != nil {
			if failErr := s.markFailed(ctx, order, "exchange submit: "+ackErr.Error()); failErr != nil {
				s.logger.ErrorContext(ctx, "order_service: mark failed after submit error",
					slog.String("order_id", id),
					slog.String("error", failErr.Error()),
				)
			}
			return nil, fmt.Errorf("order_service: exchange place order %q: %w", id, ackErr)
		}
		exchangeOrderID = ack.ExchangeOrderID
	}

	if err := order.Submit(exchangeOrderID); err != nil {
		return nil, fmt.Errorf("order_service: submit order %q: %w", id, err)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}

	s.auditLog(ctx, "order.submit", id, map[string]any{
		"exchange_order_id": exchangeOrderID,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventOrderSubmitted,
		Pair:     order.Pair().Symbol(),
		EntityID: id,
		Actor:    "order_service",
		Detail:   map[string]string{"exchangeOrderId": exchangeOrderID},
	})

	s.logger.InfoContext(ctx, "order_service: order submitted",
		slog.String("order_id", id),
		slog.String("exchange_order_id", exchangeOrderID),
	)
	return order, nil
}

// OpenOrder marks a SUBMITTED resting order as live on the exchange book.
func (s *OrderService) OpenOrder(ctx context.Context, id string) (*domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock order %q: %w", id, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := order.Open(); err != nil {
		return nil, fmt.Errorf("order_service: open order %q: %w", id, err)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}

	s.auditLog(ctx, "order.open", id, nil)
	s.publish(ctx, domain.Event{
		Type:     domain.EventOrderOpened,
		Pair:     order.Pair().Symbol(),
		EntityID: id,
		Actor:    "order_service",
	})

	s.logger.InfoContext(ctx, "order_service: order open on book",
		slog.String("order_id", id),
	)
	return order, nil
}

// RecordFill appends one execution to the order, settles the filled base
// quantity for sells, and publishes a partial or full fill event depending
// on the resulting status.
func (s *OrderService) RecordFill(ctx context.Context, id string, fill domain.Fill) (*domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock order %q: %w", id, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := order.AddFill(fill); err != nil {
		return nil, fmt.Errorf("order_service: add fill to order %q: %w", id, err)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}

	if s.accounts != nil && order.Side() == domain.OrderSideSell {
		if _, err := s.accounts.Settle(ctx, fill.Quantity(), id); err != nil {
			s.logger.ErrorContext(ctx, "order_service: settle reservation failed",
				slog.String("order_id", id),
				slog.String("quantity", fill.Quantity().String()),
				slog.String("error", err.Error()),
			)
		}
	}

	eventType := domain.EventOrderPartiallyFilled
	if order.Status() == domain.OrderStatusFilled {
		eventType = domain.EventOrderFilled
	}

	s.auditLog(ctx, "order.fill", id, map[string]any{
		"trade_id": fill.TradeID(),
		"quantity": fill.Quantity().String(),
		"price":    fill.Price().String(),
		"fee":      fill.Fee().String(),
	})
	s.publish(ctx, domain.Event{
		Type:     eventType,
		Pair:     order.Pair().Symbol(),
		EntityID: id,
		Actor:    "order_service",
		Detail: map[string]string{
			"tradeId":   fill.TradeID(),
			"quantity":  fill.Quantity().String(),
			"price":     fill.Price().String(),
			"filled":    order.FilledQuantity().String(),
			"remaining": order.RemainingQuantity().String(),
		},
	})

	s.logger.InfoContext(ctx, "order_service: fill recorded",
		slog.String("order_id", id),
		slog.String("trade_id", fill.TradeID()),
		slog.String("quantity", fill.Quantity().String()),
		slog.String("price", fill.Price().String()),
		slog.String("status", string(order.Status())),
	)
	return order, nil
}

// CancelOrder cancels an order on the exchange and locally, releasing any
// unfilled sell reservation. An order the exchange no longer knows is
// cancelled locally anyway.
func (s *OrderService) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock order %q: %w", id, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.exchange != nil && order.ExchangeOrderID() != "" && order.IsActive() {
		cancelErr := s.exchange.CancelOrder(ctx, order.Pair(), order.ExchangeOrderID())
		if cancelErr != nil && !errors.Is(cancelErr, domain.ErrNotFound) {
			return nil, fmt.Errorf("order_service: exchange cancel order %q: %w", id, cancelErr)
		}
	}

	remaining := order.RemainingQuantity()
	if err := order.Cancel(); err != nil {
		return nil, fmt.Errorf("order_service: cancel order %q: %w", id, err)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}
	if order.Side() == domain.OrderSideSell {
		s.releaseReservation(ctx, id, remaining)
	}

	s.auditLog(ctx, "order.cancel", id, map[string]any{
		"filled":    order.FilledQuantity().String(),
		"remaining": remaining.String(),
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventOrderCancelled,
		Pair:     order.Pair().Symbol(),
		EntityID: id,
		Actor:    "order_service",
		Detail:   map[string]string{"remaining": remaining.String()},
	})

	s.logger.InfoContext(ctx, "order_service: order cancelled",
		slog.String("order_id", id),
		slog.String("remaining", remaining.String()),
	)
	return order, nil
}

// RejectOrder records an exchange rejection of a PENDING or SUBMITTED
// order.
func (s *OrderService) RejectOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	return s.terminate(ctx, id, reason, "order.reject", domain.EventOrderRejected, (*domain.Order).Reject)
}

// FailOrder records an internal failure on a non-terminal order.
func (s *OrderService) FailOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	return s.terminate(ctx, id, reason, "order.fail", domain.EventOrderFailed, (*domain.Order).Fail)
}

// GetOrder returns one order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.loadOrder(ctx, id)
}

// ListActive returns every order still in flight.
func (s *OrderService) ListActive(ctx context.Context) ([]*domain.Order, error) {
	orders, err := s.orders.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("order_service: list active orders: %w", err)
	}
	return orders, nil
}

// ListByPair returns orders for a pair with pagination.
func (s *OrderService) ListByPair(ctx context.Context, pair domain.TradingPair, opts domain.ListOpts) ([]*domain.Order, error) {
	orders, err := s.orders.ListByPair(ctx, pair, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders for %s: %w", pair.Symbol(), err)
	}
	return orders, nil
}

// terminate applies a reasoned terminal transition under the order lock.
func (s *OrderService) terminate(
	ctx context.Context,
	id, reason, action string,
	eventType domain.EventType,
	apply func(*domain.Order, string) error,
) (*domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("order_service: lock order %q: %w", id, err)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	remaining := order.RemainingQuantity()
	if err := apply(order, reason); err != nil {
		return nil, fmt.Errorf("order_service: %s %q: %w", action, id, err)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("order_service: save order %q: %w", id, err)
	}
	if order.Side() == domain.OrderSideSell {
		s.releaseReservation(ctx, id, remaining)
	}

	s.auditLog(ctx, action, id, map[string]any{"reason": reason})
	s.publish(ctx, domain.Event{
		Type:     eventType,
		Pair:     order.Pair().Symbol(),
		EntityID: id,
		Actor:    "order_service",
		Detail:   map[string]string{"reason": reason},
	})

	s.logger.InfoContext(ctx, "order_service: order terminated",
		slog.String("order_id", id),
		slog.String("status", string(order.Status())),
		slog.String("reason", reason),
	)
	return order, nil
}

// markFailed transitions and persists a FAILED order. Callers already hold
// the order lock.
func (s *OrderService) markFailed(ctx context.Context, order *domain.Order, reason string) error {
	remaining := order.RemainingQuantity()
	if err := order.Fail(reason); err != nil {
		return err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return err
	}
	if order.Side() == domain.OrderSideSell {
		s.releaseReservation(ctx, order.ID(), remaining)
	}

	s.auditLog(ctx, "order.fail", order.ID(), map[string]any{"reason": reason})
	s.publish(ctx, domain.Event{
		Type:     domain.EventOrderFailed,
		Pair:     order.Pair().Symbol(),
		EntityID: order.ID(),
		Actor:    "order_service",
		Detail:   map[string]string{"reason": reason},
	})
	return nil
}

// releaseReservation returns unfilled reserved base funds after a sell
// order terminates. The order transition has already committed, so a
// release failure is logged and the funds stay reserved until the next
// exchange sync.
func (s *OrderService) releaseReservation(ctx context.Context, id string, remaining domain.Amount) {
	if s.accounts == nil || !remaining.IsPositive() {
		return
	}
	if _, err := s.accounts.Release(ctx, remaining, id); err != nil {
		s.logger.ErrorContext(ctx, "order_service: release reservation failed",
			slog.String("order_id", id),
			slog.String("remaining", remaining.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

func (s *OrderService) publish(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "order_service: publish event failed",
			slog.String("type", string(event.Type)),
			slog.String("order_id", event.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) auditLog(ctx context.Context, action, entityID string, detail map[string]any) {
	entry := domain.AuditEntry{
		Actor:     "order_service",
		Action:    action,
		Entity:    "order",
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("action", action),
			slog.String("order_id", entityID),
			slog.String("error", err.Error()),
		)
	}
}
