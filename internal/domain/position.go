package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// PositionSide is the direction of exposure.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// ParsePositionSide validates external input.
func ParsePositionSide(s string) (PositionSide, error) {
	side := PositionSide(strings.ToUpper(strings.TrimSpace(s)))
	switch side {
	case PositionSideLong, PositionSideShort:
		return side, nil
	}
	return "", newValueError("position side", "value", s, "must be LONG or SHORT")
}

// PositionStatus tracks the position lifecycle.
type PositionStatus string

const (
	PositionStatusOpening    PositionStatus = "OPENING"
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosing    PositionStatus = "CLOSING"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// IsTerminal reports whether the lifecycle has ended.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

func (s PositionStatus) isValid() bool {
	switch s {
	case PositionStatusOpening, PositionStatusOpen, PositionStatusClosing,
		PositionStatusClosed, PositionStatusLiquidated:
		return true
	}
	return false
}

// ExitReason records why a position left the market.
type ExitReason string

const (
	ExitReasonStopLoss    ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitReasonManual      ExitReason = "MANUAL"
	ExitReasonSignal      ExitReason = "SIGNAL"
	ExitReasonLiquidation ExitReason = "LIQUIDATION"
)

// ParseExitReason validates external input.
func ParseExitReason(s string) (ExitReason, error) {
	reason := ExitReason(strings.ToUpper(strings.TrimSpace(s)))
	switch reason {
	case ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonManual, ExitReasonSignal, ExitReasonLiquidation:
		return reason, nil
	}
	return "", newValueError("exit reason", "value", s, "unknown exit reason")
}

// PositionParams are the intended levels and metadata a position is
// created with. The entry, stop-loss and take-profit prices must all
// belong to the pair, the size must be a positive base-asset amount,
// and the protective levels must sit on the correct side of entry:
// stop-loss below entry below take-profit for LONG, inverted for SHORT.
type PositionParams struct {
	Pair         TradingPair
	Side         PositionSide
	EntryPrice   Price
	StopLoss     Price
	TakeProfit   Price
	Size         Amount
	Strategy     string
	Agent        string
	EntryOrderID string
}

// Position tracks directional exposure from open to close. The
// intended block is immutable; the actual block is recorded once the
// entry order fills; protective levels may move while OPEN.
type Position struct {
	id     string
	params PositionParams
	status PositionStatus

	stopLoss   Price
	takeProfit Price

	actualEntry Price
	actualSize  Amount
	opened      bool

	stopLossOrderID   string
	takeProfitOrderID string
	exitOrderID       string

	exitPrice   Price
	exitReason  ExitReason
	realizedPnL Amount
	fees        Amount
	closed      bool

	createdAt time.Time
	openedAt  time.Time
	closedAt  time.Time
	updatedAt time.Time
}

// NewPosition validates the intended levels and starts the lifecycle
// at OPENING.
func NewPosition(id string, params PositionParams) (*Position, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newEntityError("position", "", "missing id")
	}
	if err := validatePositionParams(id, params); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Position{
		id:         id,
		params:     params,
		status:     PositionStatusOpening,
		stopLoss:   params.StopLoss,
		takeProfit: params.TakeProfit,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

func validatePositionParams(id string, params PositionParams) error {
	if params.Pair.IsZero() {
		return newEntityError("position", id, "missing trading pair")
	}
	switch params.Side {
	case PositionSideLong, PositionSideShort:
	default:
		return newEntityError("position", id, "invalid side "+string(params.Side))
	}
	for _, pc := range []struct {
		field string
		price Price
	}{
		{"entry price", params.EntryPrice},
		{"stop loss", params.StopLoss},
		{"take profit", params.TakeProfit},
	} {
		if pc.price.IsZero() {
			return newEntityError("position", id, "missing "+pc.field)
		}
		if !pc.price.Pair().Equal(params.Pair) {
			return newEntityError("position", id, pc.field+" pair does not match position pair")
		}
	}
	if !params.Size.Asset().Equal(params.Pair.Base()) {
		return newEntityError("position", id, "size must be denominated in "+params.Pair.Base().Symbol())
	}
	if !params.Size.IsPositive() {
		return newEntityError("position", id, "size must be positive")
	}
	if err := validateProtectiveLevels(id, params.Side, params.EntryPrice, params.StopLoss, params.TakeProfit); err != nil {
		return err
	}
	return nil
}

// A stop on the wrong side of entry is a logic error caught at
// creation, not discovered at exit.
func validateProtectiveLevels(id string, side PositionSide, entry, stopLoss, takeProfit Price) error {
	switch side {
	case PositionSideLong:
		if stopLoss.Decimal().Cmp(entry.Decimal()) >= 0 {
			return newEntityError("position", id, "long stop loss must be below entry")
		}
		if takeProfit.Decimal().Cmp(entry.Decimal()) <= 0 {
			return newEntityError("position", id, "long take profit must be above entry")
		}
	case PositionSideShort:
		if stopLoss.Decimal().Cmp(entry.Decimal()) <= 0 {
			return newEntityError("position", id, "short stop loss must be above entry")
		}
		if takeProfit.Decimal().Cmp(entry.Decimal()) >= 0 {
			return newEntityError("position", id, "short take profit must be below entry")
		}
	}
	return nil
}

// MarkOpened records the actual fill and the protective order ids.
// OPENING only.
func (p *Position) MarkOpened(actualEntry Price, actualSize Amount, stopLossOrderID, takeProfitOrderID string) error {
	if p.status != PositionStatusOpening {
		return newTransitionError("position", p.id, string(p.status), "mark opened")
	}
	if actualEntry.IsZero() || !actualEntry.Pair().Equal(p.params.Pair) {
		return newEntityError("position", p.id, "actual entry price pair does not match position pair")
	}
	if !actualSize.Asset().Equal(p.params.Pair.Base()) {
		return newEntityError("position", p.id, "actual size must be denominated in "+p.params.Pair.Base().Symbol())
	}
	if !actualSize.IsPositive() {
		return newEntityError("position", p.id, "actual size must be positive")
	}
	p.actualEntry = actualEntry
	p.actualSize = actualSize
	p.stopLossOrderID = strings.TrimSpace(stopLossOrderID)
	p.takeProfitOrderID = strings.TrimSpace(takeProfitOrderID)
	p.opened = true
	p.openedAt = time.Now().UTC()
	p.setStatus(PositionStatusOpen)
	return nil
}

// MarkClosing records the exit order. OPEN only.
func (p *Position) MarkClosing(exitOrderID string) error {
	if p.status != PositionStatusOpen {
		return newTransitionError("position", p.id, string(p.status), "mark closing")
	}
	exitOrderID = strings.TrimSpace(exitOrderID)
	if exitOrderID == "" {
		return newEntityError("position", p.id, "missing exit order id")
	}
	p.exitOrderID = exitOrderID
	p.setStatus(PositionStatusClosing)
	return nil
}

// MarkClosed finishes the lifecycle and computes realized P&L. CLOSING
// normally, or OPEN when the exit filled without an explicit closing
// order. Liquidations go through MarkLiquidated.
func (p *Position) MarkClosed(exitPrice Price, fees Amount, reason ExitReason) error {
	if p.status != PositionStatusOpen && p.status != PositionStatusClosing {
		return newTransitionError("position", p.id, string(p.status), "mark closed")
	}
	if reason == ExitReasonLiquidation {
		return newEntityError("position", p.id, "liquidations close via mark liquidated")
	}
	switch reason {
	case ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonManual, ExitReasonSignal:
	default:
		return newEntityError("position", p.id, "unknown exit reason "+string(reason))
	}
	return p.close(exitPrice, fees, reason, PositionStatusClosed)
}

// MarkLiquidated is the forced-exit path. OPEN or CLOSING.
func (p *Position) MarkLiquidated(exitPrice Price, fees Amount) error {
	if p.status != PositionStatusOpen && p.status != PositionStatusClosing {
		return newTransitionError("position", p.id, string(p.status), "mark liquidated")
	}
	return p.close(exitPrice, fees, ExitReasonLiquidation, PositionStatusLiquidated)
}

func (p *Position) close(exitPrice Price, fees Amount, reason ExitReason, status PositionStatus) error {
	if !p.opened {
		return newTransitionError("position", p.id, string(p.status), "close before opened")
	}
	if exitPrice.IsZero() || !exitPrice.Pair().Equal(p.params.Pair) {
		return newEntityError("position", p.id, "exit price pair does not match position pair")
	}
	if !fees.Asset().Equal(p.params.Pair.Quote()) {
		return newEntityError("position", p.id, "fees must be denominated in "+p.params.Pair.Quote().Symbol())
	}
	if fees.IsNegative() {
		return newEntityError("position", p.id, "fees must not be negative")
	}
	pnl, err := p.pnlAt(exitPrice)
	if err != nil {
		return err
	}
	pnl, err = pnl.Subtract(fees)
	if err != nil {
		return err
	}
	p.exitPrice = exitPrice
	p.exitReason = reason
	p.fees = fees
	p.realizedPnL = pnl
	p.closed = true
	p.closedAt = time.Now().UTC()
	p.setStatus(status)
	return nil
}

// pnlAt computes (exit - entry) x size for LONG, (entry - exit) x size
// for SHORT, as a quote-asset amount before fees.
func (p *Position) pnlAt(exit Price) (Amount, error) {
	var diff Amount
	var err error
	switch p.params.Side {
	case PositionSideLong:
		diff, err = exit.Subtract(p.actualEntry)
	case PositionSideShort:
		diff, err = p.actualEntry.Subtract(exit)
	}
	if err != nil {
		return Amount{}, err
	}
	return diff.MultiplyDecimal(p.actualSize.Decimal()), nil
}

// UpdateStopLoss moves the protective stop while OPEN, re-validated
// against the actual entry price.
func (p *Position) UpdateStopLoss(level Price) error {
	if p.status != PositionStatusOpen {
		return newTransitionError("position", p.id, string(p.status), "update stop loss")
	}
	if level.IsZero() || !level.Pair().Equal(p.params.Pair) {
		return newEntityError("position", p.id, "stop loss pair does not match position pair")
	}
	if err := validateProtectiveLevels(p.id, p.params.Side, p.actualEntry, level, p.takeProfit); err != nil {
		return err
	}
	p.stopLoss = level
	p.touch()
	return nil
}

// UpdateTakeProfit moves the profit target while OPEN, re-validated
// against the actual entry price.
func (p *Position) UpdateTakeProfit(level Price) error {
	if p.status != PositionStatusOpen {
		return newTransitionError("position", p.id, string(p.status), "update take profit")
	}
	if level.IsZero() || !level.Pair().Equal(p.params.Pair) {
		return newEntityError("position", p.id, "take profit pair does not match position pair")
	}
	if err := validateProtectiveLevels(p.id, p.params.Side, p.actualEntry, p.stopLoss, level); err != nil {
		return err
	}
	p.takeProfit = level
	p.touch()
	return nil
}

func (p *Position) setStatus(status PositionStatus) {
	p.status = status
	p.updatedAt = time.Now().UTC()
}

func (p *Position) touch() { p.updatedAt = time.Now().UTC() }

// UnrealizedPnL marks the open exposure to an arbitrary price. OPEN
// only; exit fees are unknown until close, so none are subtracted.
func (p *Position) UnrealizedPnL(mark Price) (Amount, error) {
	if p.status != PositionStatusOpen {
		return Amount{}, newTransitionError("position", p.id, string(p.status), "compute unrealized pnl")
	}
	if mark.IsZero() || !mark.Pair().Equal(p.params.Pair) {
		return Amount{}, newMismatchError("position unrealized pnl", p.params.Pair.Symbol(), mark.Pair().Symbol())
	}
	return p.pnlAt(mark)
}

// RealizedPnL returns the net result once the position has closed.
func (p *Position) RealizedPnL() (Amount, bool) {
	if !p.closed {
		return Amount{}, false
	}
	return p.realizedPnL, true
}

// ROI returns realized P&L over entry notional as a percentage; it may
// exceed the bounded percentage domain.
func (p *Position) ROI() (Percentage, error) {
	if !p.closed {
		return Percentage{}, newTransitionError("position", p.id, string(p.status), "compute roi")
	}
	notional := p.actualEntry.Decimal().Mul(p.actualSize.Decimal())
	return percentFromRatio(p.realizedPnL.Decimal().Div(notional)), nil
}

// Duration reports how long the position has been (or was) in the
// market; it errors before the entry fill.
func (p *Position) Duration() (time.Duration, error) {
	if !p.opened {
		return 0, newOperationError("position duration", "position never opened")
	}
	if p.closed {
		return p.closedAt.Sub(p.openedAt), nil
	}
	return time.Since(p.openedAt), nil
}

// EntrySlippage returns actual minus intended entry as a signed quote
// amount.
func (p *Position) EntrySlippage() (Amount, error) {
	if !p.opened {
		return Amount{}, newOperationError("position entry slippage", "position never opened")
	}
	return p.actualEntry.Subtract(p.params.EntryPrice)
}

// ExitSlippage returns actual exit minus the protective level that
// triggered it. Manual, signal and liquidation exits have no intended
// level to compare against.
func (p *Position) ExitSlippage() (Amount, error) {
	if !p.closed {
		return Amount{}, newOperationError("position exit slippage", "position not closed")
	}
	switch p.exitReason {
	case ExitReasonStopLoss:
		return p.exitPrice.Subtract(p.stopLoss)
	case ExitReasonTakeProfit:
		return p.exitPrice.Subtract(p.takeProfit)
	}
	return Amount{}, newOperationError("position exit slippage", "no reference level for "+string(p.exitReason)+" exit")
}

func (p *Position) ID() string { return p.id }

func (p *Position) Pair() TradingPair { return p.params.Pair }

func (p *Position) Side() PositionSide { return p.params.Side }

func (p *Position) Status() PositionStatus { return p.status }

// IntendedEntry returns the entry level the agent asked for.
func (p *Position) IntendedEntry() Price { return p.params.EntryPrice }

// IntendedSize returns the size the agent asked for.
func (p *Position) IntendedSize() Amount { return p.params.Size }

// StopLoss returns the protective stop currently in force.
func (p *Position) StopLoss() Price { return p.stopLoss }

// TakeProfit returns the profit target currently in force.
func (p *Position) TakeProfit() Price { return p.takeProfit }

// ActualEntry returns the filled entry price once opened.
func (p *Position) ActualEntry() (Price, bool) { return p.actualEntry, p.opened }

// ActualSize returns the filled size once opened.
func (p *Position) ActualSize() (Amount, bool) { return p.actualSize, p.opened }

// ExitPrice returns the exit price once closed.
func (p *Position) ExitPrice() (Price, bool) { return p.exitPrice, p.closed }

// ExitReason returns the recorded reason once closed.
func (p *Position) ExitReason() (ExitReason, bool) { return p.exitReason, p.closed }

// Fees returns the total fees charged against the position once closed.
func (p *Position) Fees() (Amount, bool) { return p.fees, p.closed }

func (p *Position) Strategy() string { return p.params.Strategy }

func (p *Position) Agent() string { return p.params.Agent }

func (p *Position) EntryOrderID() string { return p.params.EntryOrderID }

func (p *Position) StopLossOrderID() string { return p.stopLossOrderID }

func (p *Position) TakeProfitOrderID() string { return p.takeProfitOrderID }

func (p *Position) ExitOrderID() string { return p.exitOrderID }

func (p *Position) CreatedAt() time.Time { return p.createdAt }

func (p *Position) UpdatedAt() time.Time { return p.updatedAt }

// OpenedAt returns the entry fill time once opened.
func (p *Position) OpenedAt() (time.Time, bool) { return p.openedAt, p.opened }

// ClosedAt returns the exit time once closed.
func (p *Position) ClosedAt() (time.Time, bool) { return p.closedAt, p.closed }

// IsTerminal reports whether the lifecycle has ended.
func (p *Position) IsTerminal() bool { return p.status.IsTerminal() }

// PositionIntended is the immutable intent block of the projection.
type PositionIntended struct {
	EntryPrice Price  `json:"entryPrice"`
	StopLoss   Price  `json:"stopLoss"`
	TakeProfit Price  `json:"takeProfit"`
	Size       Amount `json:"size"`
}

// PositionActual is the filled-entry block of the projection.
type PositionActual struct {
	EntryPrice Price  `json:"entryPrice"`
	Size       Amount `json:"size"`
}

// PositionOrders cross-references the orders serving this position.
type PositionOrders struct {
	EntryOrderID      string `json:"entryOrderId,omitempty"`
	StopLossOrderID   string `json:"stopLossOrderId,omitempty"`
	TakeProfitOrderID string `json:"takeProfitOrderId,omitempty"`
	ExitOrderID       string `json:"exitOrderId,omitempty"`
}

// PositionPnL is the result block of the projection.
type PositionPnL struct {
	ExitPrice   Price       `json:"exitPrice"`
	ExitReason  ExitReason  `json:"exitReason"`
	RealizedPnL Amount      `json:"realizedPnl"`
	Fees        Amount      `json:"fees"`
	ROI         *Percentage `json:"roi,omitempty"`
}

// PositionSlippage is the signed intended-vs-achieved block.
type PositionSlippage struct {
	Entry *Amount `json:"entry,omitempty"`
	Exit  *Amount `json:"exit,omitempty"`
}

// PositionTimes is the timestamp block of the projection.
type PositionTimes struct {
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	OpenedAt  *time.Time `json:"openedAt,omitempty"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// PositionMetadata carries agent/strategy attribution.
type PositionMetadata struct {
	Strategy string `json:"strategy,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// PositionState is the exported projection of a position.
type PositionState struct {
	ID         string            `json:"id"`
	Pair       TradingPair       `json:"pair"`
	Side       PositionSide      `json:"side"`
	Status     PositionStatus    `json:"status"`
	StopLoss   Price             `json:"stopLoss"`
	TakeProfit Price             `json:"takeProfit"`
	Intended   PositionIntended  `json:"intended"`
	Actual     *PositionActual   `json:"actual,omitempty"`
	Orders     PositionOrders    `json:"orders"`
	PnL        *PositionPnL      `json:"pnl,omitempty"`
	Slippage   *PositionSlippage `json:"slippage,omitempty"`
	Times      PositionTimes     `json:"timestamps"`
	Metadata   PositionMetadata  `json:"metadata"`
}

// State returns the position's full projection.
func (p *Position) State() PositionState {
	s := PositionState{
		ID:         p.id,
		Pair:       p.params.Pair,
		Side:       p.params.Side,
		Status:     p.status,
		StopLoss:   p.stopLoss,
		TakeProfit: p.takeProfit,
		Intended: PositionIntended{
			EntryPrice: p.params.EntryPrice,
			StopLoss:   p.params.StopLoss,
			TakeProfit: p.params.TakeProfit,
			Size:       p.params.Size,
		},
		Orders: PositionOrders{
			EntryOrderID:      p.params.EntryOrderID,
			StopLossOrderID:   p.stopLossOrderID,
			TakeProfitOrderID: p.takeProfitOrderID,
			ExitOrderID:       p.exitOrderID,
		},
		Times: PositionTimes{
			CreatedAt: p.createdAt,
			UpdatedAt: p.updatedAt,
		},
		Metadata: PositionMetadata{
			Strategy: p.params.Strategy,
			Agent:    p.params.Agent,
		},
	}
	if p.opened {
		s.Actual = &PositionActual{EntryPrice: p.actualEntry, Size: p.actualSize}
		openedAt := p.openedAt
		s.Times.OpenedAt = &openedAt
		if entry, err := p.EntrySlippage(); err == nil {
			s.Slippage = &PositionSlippage{Entry: &entry}
		}
	}
	if p.closed {
		pnl := &PositionPnL{
			ExitPrice:   p.exitPrice,
			ExitReason:  p.exitReason,
			RealizedPnL: p.realizedPnL,
			Fees:        p.fees,
		}
		if roi, err := p.ROI(); err == nil {
			pnl.ROI = &roi
		}
		s.PnL = pnl
		closedAt := p.closedAt
		s.Times.ClosedAt = &closedAt
		if exit, err := p.ExitSlippage(); err == nil {
			if s.Slippage == nil {
				s.Slippage = &PositionSlippage{}
			}
			s.Slippage.Exit = &exit
		}
	}
	return s
}

// PositionFromState rehydrates a persisted position, re-running
// parameter validation and checking block coherence against the
// stored status.
func PositionFromState(s PositionState) (*Position, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return nil, newEntityError("position", "", "missing id")
	}
	params := PositionParams{
		Pair:         s.Pair,
		Side:         s.Side,
		EntryPrice:   s.Intended.EntryPrice,
		StopLoss:     s.Intended.StopLoss,
		TakeProfit:   s.Intended.TakeProfit,
		Size:         s.Intended.Size,
		Strategy:     s.Metadata.Strategy,
		Agent:        s.Metadata.Agent,
		EntryOrderID: s.Orders.EntryOrderID,
	}
	if err := validatePositionParams(id, params); err != nil {
		return nil, err
	}
	if !s.Status.isValid() {
		return nil, newEntityError("position", id, "unknown status "+string(s.Status))
	}
	p := &Position{
		id:                id,
		params:            params,
		status:            s.Status,
		stopLoss:          s.StopLoss,
		takeProfit:        s.TakeProfit,
		stopLossOrderID:   s.Orders.StopLossOrderID,
		takeProfitOrderID: s.Orders.TakeProfitOrderID,
		exitOrderID:       s.Orders.ExitOrderID,
		createdAt:         s.Times.CreatedAt,
		updatedAt:         s.Times.UpdatedAt,
	}
	if s.StopLoss.IsZero() || !s.StopLoss.Pair().Equal(params.Pair) {
		return nil, newEntityError("position", id, "stored stop loss pair does not match position pair")
	}
	if s.TakeProfit.IsZero() || !s.TakeProfit.Pair().Equal(params.Pair) {
		return nil, newEntityError("position", id, "stored take profit pair does not match position pair")
	}
	if s.Status != PositionStatusOpening {
		if s.Actual == nil {
			return nil, newEntityError("position", id, "status "+string(s.Status)+" requires an actual block")
		}
		if s.Actual.EntryPrice.IsZero() || !s.Actual.EntryPrice.Pair().Equal(params.Pair) {
			return nil, newEntityError("position", id, "stored actual entry pair does not match position pair")
		}
		if !s.Actual.Size.Asset().Equal(params.Pair.Base()) || !s.Actual.Size.IsPositive() {
			return nil, newEntityError("position", id, "stored actual size invalid")
		}
		p.actualEntry = s.Actual.EntryPrice
		p.actualSize = s.Actual.Size
		p.opened = true
		if s.Times.OpenedAt != nil {
			p.openedAt = *s.Times.OpenedAt
		}
	}
	if s.Status.IsTerminal() {
		if s.PnL == nil {
			return nil, newEntityError("position", id, "status "+string(s.Status)+" requires a pnl block")
		}
		if s.PnL.ExitPrice.IsZero() || !s.PnL.ExitPrice.Pair().Equal(params.Pair) {
			return nil, newEntityError("position", id, "stored exit price pair does not match position pair")
		}
		p.exitPrice = s.PnL.ExitPrice
		p.exitReason = s.PnL.ExitReason
		p.realizedPnL = s.PnL.RealizedPnL
		p.fees = s.PnL.Fees
		p.closed = true
		if s.Times.ClosedAt != nil {
			p.closedAt = *s.Times.ClosedAt
		}
	}
	return p, nil
}

// MarshalJSON projects the full position state.
func (p *Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.State())
}
