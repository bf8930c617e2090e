package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantari/tradecore/internal/domain"
)

// StopTrigger reports an open position whose mark price has crossed one of
// its protective levels.
type StopTrigger struct {
	Position *domain.Position
	Reason   domain.ExitReason
	Mark     domain.Price
}

// PositionService drives the position lifecycle from intent through
// settlement and answers P&L queries against the live mark.
type PositionService struct {
	positions domain.PositionStore
	prices    domain.PriceCache
	locks     domain.LockManager
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required
// dependencies.
func NewPositionService(
	positions domain.PositionStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		prices:    prices,
		locks:     locks,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// OpenPosition persists a new OPENING position from a validated intent.
func (s *PositionService) OpenPosition(ctx context.Context, params domain.PositionParams) (*domain.Position, error) {
	id := uuid.NewString()
	pos, err := domain.NewPosition(id, params)
	if err != nil {
		return nil, fmt.Errorf("position_service: new position: %w", err)
	}

	if err := s.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("position_service: save position %q: %w", id, err)
	}

	s.auditLog(ctx, "position.create", id, map[string]any{
		"pair":        params.Pair.Symbol(),
		"side":        string(params.Side),
		"entry":       params.EntryPrice.String(),
		"size":        params.Size.String(),
		"stop_loss":   params.StopLoss.String(),
		"take_profit": params.TakeProfit.String(),
		"strategy":    params.Strategy,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionCreated,
		Pair:     params.Pair.Symbol(),
		EntityID: id,
		Actor:    s.actor(params.Agent),
		Detail: map[string]string{
			"side":     string(params.Side),
			"entry":    params.EntryPrice.String(),
			"size":     params.Size.String(),
			"strategy": params.Strategy,
		},
	})

	s.logger.InfoContext(ctx, "position_service: position created",
		slog.String("position_id", id),
		slog.String("pair", params.Pair.Symbol()),
		slog.String("side", string(params.Side)),
		slog.String("entry", params.EntryPrice.String()),
		slog.String("size", params.Size.String()),
		slog.String("strategy", params.Strategy),
	)
	return pos, nil
}

// MarkOpened records the actual entry execution once the entry order has
// filled.
func (s *PositionService) MarkOpened(ctx context.Context, id string, actualEntry domain.Price, actualSize domain.Amount, stopLossOrderID, takeProfitOrderID string) (*domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, "position:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("position_service: lock position %q: %w", id, err)
	}
	defer unlock()

	pos, err := s.loadPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pos.MarkOpened(actualEntry, actualSize, stopLossOrderID, takeProfitOrderID); err != nil {
		return nil, fmt.Errorf("position_service: mark opened %q: %w", id, err)
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("position_service: save position %q: %w", id, err)
	}

	detail := map[string]any{
		"actual_entry": actualEntry.String(),
		"actual_size":  actualSize.String(),
	}
	eventDetail := map[string]string{
		"actualEntry": actualEntry.String(),
		"actualSize":  actualSize.String(),
	}
	if slip, slipErr := pos.EntrySlippage(); slipErr == nil {
		detail["entry_slippage"] = slip.String()
		eventDetail["entrySlippage"] = slip.String()
	}

	s.auditLog(ctx, "position.open", id, detail)
	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionOpened,
		Pair:     pos.Pair().Symbol(),
		EntityID: id,
		Actor:    s.actor(pos.Agent()),
		Detail:   eventDetail,
	})

	s.logger.InfoContext(ctx, "position_service: position live",
		slog.String("position_id", id),
		slog.String("actual_entry", actualEntry.String()),
		slog.String("actual_size", actualSize.String()),
	)
	return pos, nil
}

// MarkClosing records that an exit order is in flight.
func (s *PositionService) MarkClosing(ctx context.Context, id, exitOrderID string) (*domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, "position:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("position_service: lock position %q: %w", id, err)
	}
	defer unlock()

	pos, err := s.loadPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pos.MarkClosing(exitOrderID); err != nil {
		return nil, fmt.Errorf("position_service: mark closing %q: %w", id, err)
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("position_service: save position %q: %w", id, err)
	}

	s.auditLog(ctx, "position.closing", id, map[string]any{
		"exit_order_id": exitOrderID,
	})
	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionClosing,
		Pair:     pos.Pair().Symbol(),
		EntityID: id,
		Actor:    s.actor(pos.Agent()),
		Detail:   map[string]string{"exitOrderId": exitOrderID},
	})

	s.logger.InfoContext(ctx, "position_service: position closing",
		slog.String("position_id", id),
		slog.String("exit_order_id", exitOrderID),
	)
	return pos, nil
}

// ClosePosition settles a position at the exit price and records realized
// P&L.
func (s *PositionService) ClosePosition(ctx context.Context, id string, exitPrice domain.Price, fees domain.Amount, reason domain.ExitReason) (*domain.Position, error) {
	return s.settle(ctx, id, "position.close", domain.EventPositionClosed, func(pos *domain.Position) error {
		return pos.MarkClosed(exitPrice, fees, reason)
	})
}

// LiquidatePosition settles a forced exit.
func (s *PositionService) LiquidatePosition(ctx context.Context, id string, exitPrice domain.Price, fees domain.Amount) (*domain.Position, error) {
	return s.settle(ctx, id, "position.liquidate", domain.EventPositionLiquidated, func(pos *domain.Position) error {
		return pos.MarkLiquidated(exitPrice, fees)
	})
}

// UpdateStops moves one or both protective levels on a live position.
func (s *PositionService) UpdateStops(ctx context.Context, id string, stopLoss, takeProfit *domain.Price) (*domain.Position, error) {
	if stopLoss == nil && takeProfit == nil {
		return nil, fmt.Errorf("position_service: update stops %q: no levels given: %w", id, domain.ErrInvalidOperation)
	}

	unlock, err := s.locks.Acquire(ctx, "position:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("position_service: lock position %q: %w", id, err)
	}
	defer unlock()

	pos, err := s.loadPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := map[string]any{}
	eventDetail := map[string]string{}
	if stopLoss != nil {
		if err := pos.UpdateStopLoss(*stopLoss); err != nil {
			return nil, fmt.Errorf("position_service: update stop loss %q: %w", id, err)
		}
		detail["stop_loss"] = stopLoss.String()
		eventDetail["stopLoss"] = stopLoss.String()
	}
	if takeProfit != nil {
		if err := pos.UpdateTakeProfit(*takeProfit); err != nil {
			return nil, fmt.Errorf("position_service: update take profit %q: %w", id, err)
		}
		detail["take_profit"] = takeProfit.String()
		eventDetail["takeProfit"] = takeProfit.String()
	}

	if err := s.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("position_service: save position %q: %w", id, err)
	}

	s.auditLog(ctx, "position.stops", id, detail)
	s.publish(ctx, domain.Event{
		Type:     domain.EventPositionStopsMoved,
		Pair:     pos.Pair().Symbol(),
		EntityID: id,
		Actor:    s.actor(pos.Agent()),
		Detail:   eventDetail,
	})

	s.logger.InfoContext(ctx, "position_service: stops moved",
		slog.String("position_id", id),
		slog.String("stop_loss", pos.StopLoss().String()),
		slog.String("take_profit", pos.TakeProfit().String()),
	)
	return pos, nil
}

// GetPosition returns one position by ID.
func (s *PositionService) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	return s.loadPosition(ctx, id)
}

// ListOpen returns every position not yet settled.
func (s *PositionService) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	positions, err := s.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open positions: %w", err)
	}
	return positions, nil
}

// ListByStrategy returns positions attributed to a strategy with
// pagination.
func (s *PositionService) ListByStrategy(ctx context.Context, strategy string, opts domain.ListOpts) ([]*domain.Position, error) {
	positions, err := s.positions.ListByStrategy(ctx, strategy, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list positions for strategy %q: %w", strategy, err)
	}
	return positions, nil
}

// UnrealizedPnL values an open position at the latest mark price.
func (s *PositionService) UnrealizedPnL(ctx context.Context, id string) (domain.Amount, error) {
	pos, err := s.loadPosition(ctx, id)
	if err != nil {
		return domain.Amount{}, err
	}
	mark, _, err := s.prices.GetPrice(ctx, pos.Pair())
	if err != nil {
		return domain.Amount{}, fmt.Errorf("position_service: mark price for %s: %w", pos.Pair().Symbol(), err)
	}
	pnl, err := pos.UnrealizedPnL(mark)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("position_service: unrealized pnl %q: %w", id, err)
	}
	return pnl, nil
}

// CheckProtectiveLevels scans open positions for marks at or beyond a stop
// loss or take profit. Positions without a current mark are skipped with a
// warning.
func (s *PositionService) CheckProtectiveLevels(ctx context.Context) ([]StopTrigger, error) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open positions: %w", err)
	}

	var triggers []StopTrigger
	for _, pos := range open {
		if pos.Status() != domain.PositionStatusOpen {
			continue
		}
		mark, _, err := s.prices.GetPrice(ctx, pos.Pair())
		if err != nil {
			s.logger.WarnContext(ctx, "position_service: no mark for protective check",
				slog.String("position_id", pos.ID()),
				slog.String("pair", pos.Pair().Symbol()),
				slog.String("error", err.Error()),
			)
			continue
		}

		reason, hit, err := protectiveBreach(pos, mark)
		if err != nil {
			s.logger.WarnContext(ctx, "position_service: protective check failed",
				slog.String("position_id", pos.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if hit {
			triggers = append(triggers, StopTrigger{Position: pos, Reason: reason, Mark: mark})
		}
	}
	return triggers, nil
}

// protectiveBreach compares the mark against both protective levels for
// the position's direction.
func protectiveBreach(pos *domain.Position, mark domain.Price) (domain.ExitReason, bool, error) {
	stopCmp, err := mark.Cmp(pos.StopLoss())
	if err != nil {
		return "", false, err
	}
	profitCmp, err := mark.Cmp(pos.TakeProfit())
	if err != nil {
		return "", false, err
	}

	if pos.Side() == domain.PositionSideLong {
		if stopCmp <= 0 {
			return domain.ExitReasonStopLoss, true, nil
		}
		if profitCmp >= 0 {
			return domain.ExitReasonTakeProfit, true, nil
		}
		return "", false, nil
	}

	if stopCmp >= 0 {
		return domain.ExitReasonStopLoss, true, nil
	}
	if profitCmp <= 0 {
		return domain.ExitReasonTakeProfit, true, nil
	}
	return "", false, nil
}

// settle applies a terminal transition under the position lock and
// announces the realized outcome.
func (s *PositionService) settle(
	ctx context.Context,
	id, action string,
	eventType domain.EventType,
	apply func(*domain.Position) error,
) (*domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, "position:"+id, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("position_service: lock position %q: %w", id, err)
	}
	defer unlock()

	pos, err := s.loadPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(pos); err != nil {
		return nil, fmt.Errorf("position_service: %s %q: %w", action, id, err)
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("position_service: save position %q: %w", id, err)
	}

	detail := map[string]any{}
	eventDetail := map[string]string{}
	if exit, ok := pos.ExitPrice(); ok {
		detail["exit_price"] = exit.String()
		eventDetail["exitPrice"] = exit.String()
	}
	if reason, ok := pos.ExitReason(); ok {
		detail["reason"] = string(reason)
		eventDetail["reason"] = string(reason)
	}
	if fees, ok := pos.Fees(); ok {
		detail["fees"] = fees.String()
		eventDetail["fees"] = fees.String()
	}
	pnl, pnlKnown := pos.RealizedPnL()
	if pnlKnown {
		detail["realized_pnl"] = pnl.String()
		eventDetail["realizedPnl"] = pnl.String()
	}
	if roi, roiErr := pos.ROI(); roiErr == nil {
		detail["roi"] = roi.String()
		eventDetail["roi"] = roi.String()
	}

	s.auditLog(ctx, action, id, detail)
	s.publish(ctx, domain.Event{
		Type:     eventType,
		Pair:     pos.Pair().Symbol(),
		EntityID: id,
		Actor:    s.actor(pos.Agent()),
		Detail:   eventDetail,
	})

	logAttrs := []any{
		slog.String("position_id", id),
		slog.String("pair", pos.Pair().Symbol()),
		slog.String("status", string(pos.Status())),
	}
	if pnlKnown {
		logAttrs = append(logAttrs, slog.String("realized_pnl", pnl.String()))
	}
	if eventType == domain.EventPositionLiquidated {
		s.logger.WarnContext(ctx, "position_service: position liquidated", logAttrs...)
	} else {
		s.logger.InfoContext(ctx, "position_service: position closed", logAttrs...)
	}
	return pos, nil
}

func (s *PositionService) loadPosition(ctx context.Context, id string) (*domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	return pos, nil
}

func (s *PositionService) actor(agent string) string {
	if agent != "" {
		return agent
	}
	return "position_service"
}

func (s *PositionService) publish(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("type", string(event.Type)),
			slog.String("position_id", event.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) auditLog(ctx context.Context, action, entityID string, detail map[string]any) {
	entry := domain.AuditEntry{
		Actor:     "position_service",
		Action:    action,
		Entity:    "position",
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("action", action),
			slog.String("position_id", entityID),
			slog.String("error", err.Error()),
		)
	}
}
