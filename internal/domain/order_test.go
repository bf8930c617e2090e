package domain

import (
	"errors"
	"testing"
	"time"
)

func marketOrder(t *testing.T, qty string) *Order {
	t.Helper()
	o, err := NewOrder("ord-1", OrderParams{
		Pair:     mustPair(t, "BTC/USDT"),
		Side:     OrderSideBuy,
		Type:     OrderTypeMarket,
		Quantity: amt(t, qty, "BTC"),
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return o
}

func stopOrder(t *testing.T, qty, stop string) *Order {
	t.Helper()
	stopPrice := prc(t, stop, "BTC/USDT")
	o, err := NewOrder("ord-2", OrderParams{
		Pair:      mustPair(t, "BTC/USDT"),
		Side:      OrderSideSell,
		Type:      OrderTypeStopLoss,
		Quantity:  amt(t, qty, "BTC"),
		StopPrice: &stopPrice,
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return o
}

func orderFill(t *testing.T, tradeID, qty, price string) Fill {
	t.Helper()
	f, err := NewFill(mustPair(t, "BTC/USDT"), tradeID, "ex-1",
		amt(t, qty, "BTC"), prc(t, price, "BTC/USDT"), amt(t, "5", "USDT"), time.Now())
	if err != nil {
		t.Fatalf("NewFill: %v", err)
	}
	return f
}

func TestNewOrder_Validation(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	stop := prc(t, "48000", "BTC/USDT")
	foreignStop := prc(t, "48000", "ETH/USDT")

	cases := []struct {
		name   string
		id     string
		params OrderParams
	}{
		{"missing id", "", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "1", "BTC")}},
		{"missing pair", "o", OrderParams{Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "1", "BTC")}},
		{"bad side", "o", OrderParams{Pair: pair, Side: OrderSide("HOLD"), Type: OrderTypeMarket, Quantity: amt(t, "1", "BTC")}},
		{"bad type", "o", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderType("LIMIT"), Quantity: amt(t, "1", "BTC")}},
		{"zero quantity", "o", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "0", "BTC")}},
		{"negative quantity", "o", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "-1", "BTC")}},
		{"quote-denominated quantity", "o", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "1", "USDT")}},
		{"market with stop price", "o", OrderParams{Pair: pair, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: amt(t, "1", "BTC"), StopPrice: &stop}},
		{"resting without stop price", "o", OrderParams{Pair: pair, Side: OrderSideSell, Type: OrderTypeStopLoss, Quantity: amt(t, "1", "BTC")}},
		{"stop price foreign pair", "o", OrderParams{Pair: pair, Side: OrderSideSell, Type: OrderTypeStopLoss, Quantity: amt(t, "1", "BTC"), StopPrice: &foreignStop}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewOrder(tc.id, tc.params); !errors.Is(err, ErrEntityValidation) {
				t.Errorf("Expected ErrEntityValidation, got %v", err)
			}
		})
	}
}

func TestOrder_MarketLifecycle(t *testing.T) {
	o := marketOrder(t, "2")
	if o.Status() != OrderStatusPending {
		t.Fatalf("Expected PENDING, got %s", o.Status())
	}

	if err := o.Submit("ex-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status() != OrderStatusSubmitted || o.ExchangeOrderID() != "ex-1" {
		t.Fatalf("Expected SUBMITTED with ex-1, got %s %s", o.Status(), o.ExchangeOrderID())
	}

	if err := o.AddFill(orderFill(t, "t-1", "0.5", "50100")); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.Status() != OrderStatusPartiallyFilled {
		t.Fatalf("Expected PARTIALLY_FILLED, got %s", o.Status())
	}
	if o.RemainingQuantity().Decimal().String() != "1.5" {
		t.Errorf("Expected remaining 1.5, got %s", o.RemainingQuantity().Decimal())
	}

	if err := o.AddFill(orderFill(t, "t-2", "1.5", "50200")); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.Status() != OrderStatusFilled {
		t.Fatalf("Expected FILLED, got %s", o.Status())
	}
	if _, ok := o.CompletedAt(); !ok {
		t.Error("FILLED order should carry a completion time")
	}
	if !o.RemainingQuantity().IsZero() {
		t.Errorf("Expected zero remaining, got %s", o.RemainingQuantity().Decimal())
	}

	// Weighted average: (0.5*50100 + 1.5*50200) / 2 = 50175.
	avg, err := o.AverageFillPrice()
	if err != nil {
		t.Fatalf("AverageFillPrice: %v", err)
	}
	if avg.Decimal().String() != "50175" {
		t.Errorf("Expected 50175, got %s", avg.Decimal())
	}

	if o.FeeTotal().Decimal().String() != "10" {
		t.Errorf("Expected fee total 10, got %s", o.FeeTotal().Decimal())
	}
}

func TestOrder_RestingLifecycle(t *testing.T) {
	o := stopOrder(t, "1", "48000")

	// A resting order cannot fill before it is live on the book.
	if err := o.AddFill(orderFill(t, "t-1", "1", "48000")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fill before open: Expected ErrInvalidTransition, got %v", err)
	}

	if err := o.Submit("ex-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if o.Status() != OrderStatusOpen {
		t.Fatalf("Expected OPEN, got %s", o.Status())
	}

	if err := o.AddFill(orderFill(t, "t-1", "1", "47990")); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.Status() != OrderStatusFilled {
		t.Errorf("Expected FILLED, got %s", o.Status())
	}
}

func TestOrder_MarketOrdersNeverOpen(t *testing.T) {
	o := marketOrder(t, "1")
	if err := o.Submit("ex-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Open(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrder_FillGuards(t *testing.T) {
	o := marketOrder(t, "2")
	if err := o.Submit("ex-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.AddFill(orderFill(t, "t-1", "0.5", "50000")); err != nil {
		t.Fatalf("AddFill: %v", err)
	}

	t.Run("duplicate trade id", func(t *testing.T) {
		if err := o.AddFill(orderFill(t, "t-1", "0.5", "50000")); !errors.Is(err, ErrEntityValidation) {
			t.Errorf("Expected ErrEntityValidation, got %v", err)
		}
	})

	t.Run("foreign pair", func(t *testing.T) {
		f, err := NewFill(mustPair(t, "ETH/USDT"), "t-9", "ex-1",
			amt(t, "1", "ETH"), prc(t, "3000", "ETH/USDT"), amt(t, "1", "USDT"), time.Now())
		if err != nil {
			t.Fatalf("NewFill: %v", err)
		}
		if err := o.AddFill(f); !errors.Is(err, ErrEntityValidation) {
			t.Errorf("Expected ErrEntityValidation, got %v", err)
		}
	})

	t.Run("mismatched exchange order id", func(t *testing.T) {
		f, err := NewFill(mustPair(t, "BTC/USDT"), "t-8", "ex-OTHER",
			amt(t, "0.5", "BTC"), prc(t, "50000", "BTC/USDT"), amt(t, "1", "USDT"), time.Now())
		if err != nil {
			t.Fatalf("NewFill: %v", err)
		}
		if err := o.AddFill(f); !errors.Is(err, ErrEntityValidation) {
			t.Errorf("Expected ErrEntityValidation, got %v", err)
		}
	})

	t.Run("fill after terminal", func(t *testing.T) {
		if err := o.AddFill(orderFill(t, "t-2", "1.5", "50000")); err != nil {
			t.Fatalf("AddFill: %v", err)
		}
		if err := o.AddFill(orderFill(t, "t-3", "0.1", "50000")); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestOrder_OverfillCompletes(t *testing.T) {
	o := marketOrder(t, "2")
	if err := o.Submit("ex-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.AddFill(orderFill(t, "t-1", "2.1", "50000")); err != nil {
		t.Fatalf("AddFill: %v", err)
	}
	if o.Status() != OrderStatusFilled {
		t.Errorf("Cumulative quantity at or above requested should mean FILLED, got %s", o.Status())
	}
	if !o.RemainingQuantity().IsZero() {
		t.Errorf("Remaining is floored at zero, got %s", o.RemainingQuantity().Decimal())
	}
}

func TestOrder_CancelRejectFail(t *testing.T) {
	t.Run("cancel while resting", func(t *testing.T) {
		o := stopOrder(t, "1", "48000")
		o.Submit("ex-1")
		o.Open()
		if err := o.Cancel(); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if o.Status() != OrderStatusCancelled {
			t.Errorf("Expected CANCELLED, got %s", o.Status())
		}
	})

	t.Run("cancel after filled", func(t *testing.T) {
		o := marketOrder(t, "1")
		o.Submit("ex-1")
		o.AddFill(orderFill(t, "t-1", "1", "50000"))
		err := o.Cancel()
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Expected ErrInvalidTransition, got %v", err)
		}
		var trErr *TransitionError
		if !errors.As(err, &trErr) {
			t.Fatalf("Expected *TransitionError, got %T", err)
		}
		if trErr.From != "FILLED" || trErr.Event != "cancel" {
			t.Errorf("Expected FILLED/cancel, got %s/%s", trErr.From, trErr.Event)
		}
	})

	t.Run("reject only before acceptance", func(t *testing.T) {
		o := marketOrder(t, "1")
		o.Submit("ex-1")
		o.AddFill(orderFill(t, "t-1", "0.5", "50000"))
		if err := o.Reject("price bounds"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Reject after partial fill: Expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("reject pending", func(t *testing.T) {
		o := marketOrder(t, "1")
		if err := o.Reject("insufficient margin"); err != nil {
			t.Fatalf("Reject: %v", err)
		}
		if o.Status() != OrderStatusRejected || o.Reason() != "insufficient margin" {
			t.Errorf("Expected REJECTED with reason, got %s %q", o.Status(), o.Reason())
		}
	})

	t.Run("fail from partial", func(t *testing.T) {
		o := marketOrder(t, "1")
		o.Submit("ex-1")
		o.AddFill(orderFill(t, "t-1", "0.5", "50000"))
		if err := o.Fail("venue timeout"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if o.Status() != OrderStatusFailed {
			t.Errorf("Expected FAILED, got %s", o.Status())
		}
	})

	t.Run("fail after filled", func(t *testing.T) {
		o := marketOrder(t, "1")
		o.Submit("ex-1")
		o.AddFill(orderFill(t, "t-1", "1", "50000"))
		if err := o.Fail("too late"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestOrder_AverageFillPriceRequiresFills(t *testing.T) {
	o := marketOrder(t, "1")
	if _, err := o.AverageFillPrice(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation, got %v", err)
	}
}

func TestOrder_DerivedGettersRepeatable(t *testing.T) {
	o := marketOrder(t, "2")
	o.Submit("ex-1")
	o.AddFill(orderFill(t, "t-1", "0.5", "50100"))

	first, err := o.AverageFillPrice()
	if err != nil {
		t.Fatalf("AverageFillPrice: %v", err)
	}
	second, err := o.AverageFillPrice()
	if err != nil {
		t.Fatalf("AverageFillPrice: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("Average fill price drifted across reads: %s vs %s", first.Decimal(), second.Decimal())
	}
	if !o.FeeTotal().Equal(o.FeeTotal()) {
		t.Error("Fee total drifted across reads")
	}
	if !o.FilledQuantity().Equal(o.FilledQuantity()) {
		t.Error("Filled quantity drifted across reads")
	}
	if !o.RemainingQuantity().Equal(o.RemainingQuantity()) {
		t.Error("Remaining quantity drifted across reads")
	}

	// The fills slice is a copy; callers cannot reach order state through it.
	fills := o.Fills()
	fills[0] = Fill{}
	if o.Fills()[0].TradeID() != "t-1" {
		t.Error("Mutating the returned fills slice must not touch the order")
	}
}

func TestOrder_StateRoundTrip(t *testing.T) {
	o := marketOrder(t, "2")
	o.Submit("ex-1")
	o.AddFill(orderFill(t, "t-1", "0.5", "50100"))
	o.AddFill(orderFill(t, "t-2", "1.5", "50200"))

	state := o.State()
	back, err := OrderFromState(state)
	if err != nil {
		t.Fatalf("OrderFromState: %v", err)
	}
	if back.Status() != OrderStatusFilled {
		t.Errorf("Expected FILLED, got %s", back.Status())
	}
	if !back.FilledQuantity().Equal(o.FilledQuantity()) {
		t.Errorf("Expected filled %v, got %v", o.FilledQuantity(), back.FilledQuantity())
	}
	avg, err := back.AverageFillPrice()
	if err != nil {
		t.Fatalf("AverageFillPrice: %v", err)
	}
	if avg.Decimal().String() != "50175" {
		t.Errorf("Expected 50175, got %s", avg.Decimal())
	}
	if _, ok := back.CompletedAt(); !ok {
		t.Error("Rehydrated FILLED order should keep its completion time")
	}
}

func TestOrderFromState_RejectsCorruptState(t *testing.T) {
	o := marketOrder(t, "1")
	state := o.State()
	state.Status = OrderStatus("LIMBO")
	if _, err := OrderFromState(state); !errors.Is(err, ErrEntityValidation) {
		t.Errorf("Expected ErrEntityValidation, got %v", err)
	}
}
