package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide validates external input.
func ParseOrderSide(s string) (OrderSide, error) {
	side := OrderSide(strings.ToUpper(strings.TrimSpace(s)))
	switch side {
	case OrderSideBuy, OrderSideSell:
		return side, nil
	}
	return "", newValueError("order side", "value", s, "must be BUY or SELL")
}

// OrderType distinguishes immediate from resting orders.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// ParseOrderType validates external input.
func ParseOrderType(s string) (OrderType, error) {
	typ := OrderType(strings.ToUpper(strings.TrimSpace(s)))
	switch typ {
	case OrderTypeMarket, OrderTypeStopLoss, OrderTypeTakeProfit:
		return typ, nil
	}
	return "", newValueError("order type", "value", s, "must be MARKET, STOP_LOSS or TAKE_PROFIT")
}

// IsResting reports whether orders of this type rest on the book until
// triggered.
func (t OrderType) IsResting() bool { return t != OrderTypeMarket }

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether the lifecycle has ended.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) isValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusOpen, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// OrderParams are the immutable creation parameters of an order.
// StopPrice is required for resting types and must be absent for
// market orders.
type OrderParams struct {
	Pair      TradingPair
	Side      OrderSide
	Type      OrderType
	Quantity  Amount
	StopPrice *Price
}

// Order tracks one exchange order from creation through fills to a
// terminal state. Fills are appended only, never removed; every
// derived aggregate is recomputed from them on demand.
type Order struct {
	id              string
	params          OrderParams
	status          OrderStatus
	exchangeOrderID string
	fills           []Fill
	reason          string
	createdAt       time.Time
	updatedAt       time.Time
	completedAt     time.Time
}

// NewOrder validates parameters and starts the lifecycle at PENDING.
func NewOrder(id string, params OrderParams) (*Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newEntityError("order", "", "missing id")
	}
	if err := validateOrderParams(id, params); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Order{
		id:        id,
		params:    copyOrderParams(params),
		status:    OrderStatusPending,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func validateOrderParams(id string, params OrderParams) error {
	if params.Pair.IsZero() {
		return newEntityError("order", id, "missing trading pair")
	}
	switch params.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return newEntityError("order", id, "invalid side "+string(params.Side))
	}
	switch params.Type {
	case OrderTypeMarket, OrderTypeStopLoss, OrderTypeTakeProfit:
	default:
		return newEntityError("order", id, "invalid type "+string(params.Type))
	}
	if !params.Quantity.Asset().Equal(params.Pair.Base()) {
		return newEntityError("order", id, "quantity must be denominated in "+params.Pair.Base().Symbol())
	}
	if !params.Quantity.IsPositive() {
		return newEntityError("order", id, "quantity must be positive")
	}
	if params.Type.IsResting() {
		if params.StopPrice == nil {
			return newEntityError("order", id, "resting orders require a stop price")
		}
		if !params.StopPrice.Pair().Equal(params.Pair) {
			return newEntityError("order", id, "stop price pair does not match order pair")
		}
	} else if params.StopPrice != nil {
		return newEntityError("order", id, "market orders cannot carry a stop price")
	}
	return nil
}

func copyOrderParams(params OrderParams) OrderParams {
	if params.StopPrice != nil {
		stop := *params.StopPrice
		params.StopPrice = &stop
	}
	return params
}

// Submit records exchange acceptance. PENDING only.
func (o *Order) Submit(exchangeOrderID string) error {
	if o.status != OrderStatusPending {
		return newTransitionError("order", o.id, string(o.status), "submit")
	}
	exchangeOrderID = strings.TrimSpace(exchangeOrderID)
	if exchangeOrderID == "" {
		return newEntityError("order", o.id, "missing exchange order id")
	}
	o.exchangeOrderID = exchangeOrderID
	o.setStatus(OrderStatusSubmitted)
	return nil
}

// Open marks a resting order as live on the book. SUBMITTED only;
// market orders never rest.
func (o *Order) Open() error {
	if !o.params.Type.IsResting() {
		return newTransitionError("order", o.id, string(o.status), "open market order")
	}
	if o.status != OrderStatusSubmitted {
		return newTransitionError("order", o.id, string(o.status), "open")
	}
	o.setStatus(OrderStatusOpen)
	return nil
}

// AddFill appends one execution event and recomputes the lifecycle:
// the order becomes FILLED once cumulative quantity reaches the
// requested quantity, PARTIALLY_FILLED otherwise.
func (o *Order) AddFill(f Fill) error {
	if !o.fillableFrom(o.status) {
		return newTransitionError("order", o.id, string(o.status), "add fill")
	}
	if !f.Pair().Equal(o.params.Pair) {
		return newEntityError("order", o.id, "fill pair "+f.Pair().Symbol()+" does not match order pair "+o.params.Pair.Symbol())
	}
	if o.exchangeOrderID != "" && f.ExchangeOrderID() != o.exchangeOrderID {
		return newEntityError("order", o.id, "fill exchange order id "+f.ExchangeOrderID()+" does not match "+o.exchangeOrderID)
	}
	for _, existing := range o.fills {
		if existing.TradeID() == f.TradeID() {
			return newEntityError("order", o.id, "duplicate trade id "+f.TradeID())
		}
	}
	o.fills = append(o.fills, f)
	filled := o.FilledQuantity()
	if filled.Decimal().Cmp(o.params.Quantity.Decimal()) >= 0 {
		o.completedAt = time.Now().UTC()
		o.setStatus(OrderStatusFilled)
	} else {
		o.setStatus(OrderStatusPartiallyFilled)
	}
	return nil
}

// Market orders fill straight from PENDING or SUBMITTED; resting
// orders must be live on the book first. Both keep accepting fills
// while PARTIALLY_FILLED.
func (o *Order) fillableFrom(status OrderStatus) bool {
	if o.params.Type.IsResting() {
		return status == OrderStatusOpen || status == OrderStatusPartiallyFilled
	}
	return status == OrderStatusPending || status == OrderStatusSubmitted || status == OrderStatusPartiallyFilled
}

// Cancel ends the lifecycle from any non-terminal state.
func (o *Order) Cancel() error {
	if o.status.IsTerminal() {
		return newTransitionError("order", o.id, string(o.status), "cancel")
	}
	o.setStatus(OrderStatusCancelled)
	return nil
}

// Reject records exchange refusal. PENDING or SUBMITTED only.
func (o *Order) Reject(reason string) error {
	if o.status != OrderStatusPending && o.status != OrderStatusSubmitted {
		return newTransitionError("order", o.id, string(o.status), "reject")
	}
	o.reason = reason
	o.setStatus(OrderStatusRejected)
	return nil
}

// Fail records an unrecoverable error. Permitted from any state except
// FILLED.
func (o *Order) Fail(reason string) error {
	if o.status == OrderStatusFilled {
		return newTransitionError("order", o.id, string(o.status), "fail")
	}
	o.reason = reason
	o.setStatus(OrderStatusFailed)
	return nil
}

func (o *Order) setStatus(status OrderStatus) {
	o.status = status
	o.updatedAt = time.Now().UTC()
}

func (o *Order) ID() string { return o.id }

func (o *Order) Pair() TradingPair { return o.params.Pair }

func (o *Order) Side() OrderSide { return o.params.Side }

func (o *Order) Type() OrderType { return o.params.Type }

// RequestedQuantity returns the base-asset quantity the order asked for.
func (o *Order) RequestedQuantity() Amount { return o.params.Quantity }

// StopPrice returns the trigger level of a resting order.
func (o *Order) StopPrice() (Price, bool) {
	if o.params.StopPrice == nil {
		return Price{}, false
	}
	return *o.params.StopPrice, true
}

func (o *Order) Status() OrderStatus { return o.status }

func (o *Order) ExchangeOrderID() string { return o.exchangeOrderID }

func (o *Order) Reason() string { return o.reason }

func (o *Order) CreatedAt() time.Time { return o.createdAt }

func (o *Order) UpdatedAt() time.Time { return o.updatedAt }

// CompletedAt returns the fill-completion time once FILLED.
func (o *Order) CompletedAt() (time.Time, bool) {
	if o.completedAt.IsZero() {
		return time.Time{}, false
	}
	return o.completedAt, true
}

// Fills returns a copy; callers cannot mutate the order through it.
func (o *Order) Fills() []Fill {
	out := make([]Fill, len(o.fills))
	copy(out, o.fills)
	return out
}

// FilledQuantity sums executed quantity across all fills.
func (o *Order) FilledQuantity() Amount {
	total := ZeroAmount(o.params.Pair.Base())
	for _, f := range o.fills {
		total = Amount{value: total.value.Add(f.Quantity().Decimal()), asset: total.asset}
	}
	return total
}

// RemainingQuantity returns requested minus filled, floored at zero.
func (o *Order) RemainingQuantity() Amount {
	rem, _ := o.params.Quantity.SubtractOrZero(o.FilledQuantity())
	return rem
}

// FeeTotal sums fees in the quote asset; base-denominated fees convert
// at their own fill's execution price.
func (o *Order) FeeTotal() Amount {
	total := ZeroAmount(o.params.Pair.Quote())
	for _, f := range o.fills {
		total = Amount{value: total.value.Add(f.FeeInQuote().Decimal()), asset: total.asset}
	}
	return total
}

// AverageFillPrice returns the quantity-weighted average execution
// price; it errors while no fills exist.
func (o *Order) AverageFillPrice() (Price, error) {
	if len(o.fills) == 0 {
		return Price{}, newOperationError("order average fill price", "order has no fills")
	}
	notional := ZeroAmount(o.params.Pair.Quote()).Decimal()
	quantity := ZeroAmount(o.params.Pair.Base()).Decimal()
	for _, f := range o.fills {
		notional = notional.Add(f.Quantity().Decimal().Mul(f.Price().Decimal()))
		quantity = quantity.Add(f.Quantity().Decimal())
	}
	return Price{value: notional.Div(quantity), pair: o.params.Pair}, nil
}

// IsTerminal reports whether the lifecycle has ended.
func (o *Order) IsTerminal() bool { return o.status.IsTerminal() }

// IsActive reports whether the order can still change.
func (o *Order) IsActive() bool { return !o.status.IsTerminal() }

// OrderState is the exported projection of an order, including fills
// and the aggregates derived from them.
type OrderState struct {
	ID                string      `json:"id"`
	Pair              TradingPair `json:"pair"`
	Side              OrderSide   `json:"side"`
	Type              OrderType   `json:"type"`
	Quantity          Amount      `json:"quantity"`
	StopPrice         *Price      `json:"stopPrice,omitempty"`
	Status            OrderStatus `json:"status"`
	ExchangeOrderID   string      `json:"exchangeOrderId,omitempty"`
	Fills             []FillState `json:"fills"`
	FilledQuantity    Amount      `json:"filledQuantity"`
	RemainingQuantity Amount      `json:"remainingQuantity"`
	AveragePrice      *Price      `json:"averagePrice,omitempty"`
	FeeTotal          Amount      `json:"feeTotal"`
	Reason            string      `json:"reason,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// State returns the order's full projection.
func (o *Order) State() OrderState {
	s := OrderState{
		ID:                o.id,
		Pair:              o.params.Pair,
		Side:              o.params.Side,
		Type:              o.params.Type,
		Quantity:          o.params.Quantity,
		Status:            o.status,
		ExchangeOrderID:   o.exchangeOrderID,
		Fills:             make([]FillState, 0, len(o.fills)),
		FilledQuantity:    o.FilledQuantity(),
		RemainingQuantity: o.RemainingQuantity(),
		FeeTotal:          o.FeeTotal(),
		Reason:            o.reason,
		CreatedAt:         o.createdAt,
		UpdatedAt:         o.updatedAt,
	}
	if o.params.StopPrice != nil {
		stop := *o.params.StopPrice
		s.StopPrice = &stop
	}
	for _, f := range o.fills {
		s.Fills = append(s.Fills, f.State())
	}
	if avg, err := o.AverageFillPrice(); err == nil {
		s.AveragePrice = &avg
	}
	if !o.completedAt.IsZero() {
		completed := o.completedAt
		s.CompletedAt = &completed
	}
	return s
}

// OrderFromState rehydrates a persisted order, re-running parameter
// and fill validation; lifecycle placement is restored as stored.
func OrderFromState(s OrderState) (*Order, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return nil, newEntityError("order", "", "missing id")
	}
	params := OrderParams{
		Pair:      s.Pair,
		Side:      s.Side,
		Type:      s.Type,
		Quantity:  s.Quantity,
		StopPrice: s.StopPrice,
	}
	if err := validateOrderParams(id, params); err != nil {
		return nil, err
	}
	if !s.Status.isValid() {
		return nil, newEntityError("order", id, "unknown status "+string(s.Status))
	}
	o := &Order{
		id:              id,
		params:          copyOrderParams(params),
		status:          s.Status,
		exchangeOrderID: s.ExchangeOrderID,
		reason:          s.Reason,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
	}
	for _, fs := range s.Fills {
		f, err := FillFromState(fs)
		if err != nil {
			return nil, err
		}
		if !f.Pair().Equal(params.Pair) {
			return nil, newEntityError("order", id, "stored fill pair does not match order pair")
		}
		o.fills = append(o.fills, f)
	}
	if s.CompletedAt != nil {
		o.completedAt = *s.CompletedAt
	}
	return o, nil
}

// MarshalJSON projects the full order state.
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.State())
}
