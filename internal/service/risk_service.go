package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantari/tradecore/internal/domain"
)

// RiskLimits holds the guardrails enforced before an order goes out. A
// zero value disables the corresponding check.
type RiskLimits struct {
	MaxOpenPositions int
	MaxOrderNotional float64 // quote units per order
	MaxDailyLoss     float64 // quote units realized per UTC day
	MaxSpreadPercent float64 // widest tolerable book spread
}

// RiskService runs pre-trade checks against positions, balances, and the
// live book. Store failures block the order; failures to fetch advisory
// market data are logged and the corresponding check is skipped.
type RiskService struct {
	limits    RiskLimits
	positions domain.PositionStore
	balances  domain.BalanceStore
	books     *BookService
	prices    domain.PriceCache
	logger    *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(
	limits RiskLimits,
	positions domain.PositionStore,
	balances domain.BalanceStore,
	books *BookService,
	prices domain.PriceCache,
	logger *slog.Logger,
) *RiskService {
	return &RiskService{
		limits:    limits,
		positions: positions,
		balances:  balances,
		books:     books,
		prices:    prices,
		logger:    logger,
		now:       time.Now,
	}
}

// CheckOrder admits or rejects an order before it is created. Rejections
// carry ErrInvalidOperation for limit breaches and ErrInsufficientFunds for
// balance shortfalls.
func (s *RiskService) CheckOrder(ctx context.Context, params domain.OrderParams) error {
	if err := s.checkOpenPositions(ctx); err != nil {
		return err
	}
	if err := s.checkSpread(ctx, params.Pair); err != nil {
		return err
	}

	notional, notionalKnown := s.estimateNotional(ctx, params)
	if notionalKnown {
		if err := s.checkNotional(notional); err != nil {
			return err
		}
	}
	if err := s.checkBalance(ctx, params, notional, notionalKnown); err != nil {
		return err
	}
	if err := s.checkDailyLoss(ctx, params.Pair); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "risk_service: order admitted",
		slog.String("pair", params.Pair.Symbol()),
		slog.String("side", string(params.Side)),
		slog.String("quantity", params.Quantity.String()),
	)
	return nil
}

func (s *RiskService) checkOpenPositions(ctx context.Context) error {
	if s.limits.MaxOpenPositions <= 0 {
		return nil
	}
	count, err := s.positions.CountOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk_service: count open positions: %w", err)
	}
	if count >= int64(s.limits.MaxOpenPositions) {
		s.logger.WarnContext(ctx, "risk_service: open position limit reached",
			slog.Int64("open", count),
			slog.Int("limit", s.limits.MaxOpenPositions),
		)
		return fmt.Errorf("risk_service: %d open positions at limit %d: %w",
			count, s.limits.MaxOpenPositions, domain.ErrInvalidOperation)
	}
	return nil
}

func (s *RiskService) checkSpread(ctx context.Context, pair domain.TradingPair) error {
	if s.limits.MaxSpreadPercent <= 0 {
		return nil
	}
	maxSpread, err := domain.NewPercentage(s.limits.MaxSpreadPercent)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: invalid spread limit, skipping check",
			slog.Float64("limit", s.limits.MaxSpreadPercent),
			slog.String("error", err.Error()),
		)
		return nil
	}

	snap, err := s.books.Snapshot(ctx, pair)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: no book for spread check",
			slog.String("pair", pair.Symbol()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	spread := snap.SpreadPercent()
	if spread.GreaterThan(maxSpread) {
		s.logger.WarnContext(ctx, "risk_service: spread too wide",
			slog.String("pair", pair.Symbol()),
			slog.String("spread", spread.String()),
			slog.String("limit", maxSpread.String()),
		)
		return fmt.Errorf("risk_service: spread %s exceeds limit %s: %w",
			spread, maxSpread, domain.ErrInvalidOperation)
	}
	return nil
}

// estimateNotional prices the order in quote units, preferring a walk of
// the live ladder over the last mark. Reports false when neither source is
// available.
func (s *RiskService) estimateNotional(ctx context.Context, params domain.OrderParams) (domain.Amount, bool) {
	snap, err := s.books.Snapshot(ctx, params.Pair)
	if err == nil {
		var est domain.MarketOrderEstimate
		if params.Side == domain.OrderSideBuy {
			est, err = snap.EstimateMarketBuy(params.Quantity)
		} else {
			est, err = snap.EstimateMarketSell(params.Quantity)
		}
		if err == nil && est.FullyFilled {
			return est.QuoteTotal, true
		}
	}

	mark, _, err := s.prices.GetPrice(ctx, params.Pair)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: no book or mark price, skipping notional checks",
			slog.String("pair", params.Pair.Symbol()),
			slog.String("error", err.Error()),
		)
		return domain.Amount{}, false
	}
	notional, err := mark.ConvertToQuote(params.Quantity)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: notional conversion failed, skipping notional checks",
			slog.String("pair", params.Pair.Symbol()),
			slog.String("error", err.Error()),
		)
		return domain.Amount{}, false
	}
	return notional, true
}

func (s *RiskService) checkNotional(notional domain.Amount) error {
	if s.limits.MaxOrderNotional <= 0 {
		return nil
	}
	limit, err := domain.NewAmountFromFloat(s.limits.MaxOrderNotional, notional.Asset())
	if err != nil {
		return nil
	}
	over, err := notional.GreaterThan(limit)
	if err != nil {
		return nil
	}
	if over {
		return fmt.Errorf("risk_service: notional %s exceeds limit %s: %w",
			notional, limit, domain.ErrInvalidOperation)
	}
	return nil
}

// checkBalance verifies the order is covered: sells need the base quantity
// available, buys need the estimated quote cost. A buy with no notional
// estimate passes unchecked.
func (s *RiskService) checkBalance(ctx context.Context, params domain.OrderParams, notional domain.Amount, notionalKnown bool) error {
	var required domain.Amount
	switch {
	case params.Side == domain.OrderSideSell:
		required = params.Quantity
	case notionalKnown:
		required = notional
	default:
		return nil
	}

	bal, err := s.balances.Get(ctx, required.Asset())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("risk_service: get balance %s: %w", required.Asset().Symbol(), err)
		}
		bal, err = domain.NewBalance(required.Asset())
		if err != nil {
			return fmt.Errorf("risk_service: new balance %s: %w", required.Asset().Symbol(), err)
		}
	}

	if _, err := bal.Reserve(required); err != nil {
		return fmt.Errorf("risk_service: balance coverage: %w", err)
	}
	return nil
}

// checkDailyLoss totals realized P&L of positions settled since UTC
// midnight, per quote asset, and blocks new orders once the configured loss
// is reached.
func (s *RiskService) checkDailyLoss(ctx context.Context, pair domain.TradingPair) error {
	if s.limits.MaxDailyLoss <= 0 {
		return nil
	}

	quote := pair.Quote()
	lossLimit, err := domain.NewAmountFromFloat(s.limits.MaxDailyLoss, quote)
	if err != nil {
		return nil
	}

	midnight := s.now().UTC().Truncate(24 * time.Hour)
	closed, err := s.positions.ListClosedSince(ctx, midnight)
	if err != nil {
		return fmt.Errorf("risk_service: list closed positions: %w", err)
	}

	total := domain.ZeroAmount(quote)
	for _, pos := range closed {
		if !pos.Pair().Quote().Equal(quote) {
			continue
		}
		pnl, ok := pos.RealizedPnL()
		if !ok {
			continue
		}
		total, err = total.Add(pnl)
		if err != nil {
			return fmt.Errorf("risk_service: sum daily pnl: %w", err)
		}
	}

	if !total.IsNegative() {
		return nil
	}
	cmp, err := total.Abs().Cmp(lossLimit)
	if err != nil {
		return fmt.Errorf("risk_service: compare daily loss: %w", err)
	}
	if cmp >= 0 {
		s.logger.WarnContext(ctx, "risk_service: daily loss limit reached",
			slog.String("quote", quote.Symbol()),
			slog.String("loss", total.Abs().String()),
			slog.String("limit", lossLimit.String()),
		)
		return fmt.Errorf("risk_service: daily loss %s at limit %s: %w",
			total.Abs(), lossLimit, domain.ErrInvalidOperation)
	}
	return nil
}
