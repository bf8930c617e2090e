package domain

import "encoding/json"

// Balance is the per-asset ledger entry: funds available for new
// orders plus funds reserved against in-flight ones. Value semantics;
// every mutation returns the updated balance and the original is
// untouched.
type Balance struct {
	asset     Asset
	available Amount
	reserved  Amount
}

// NewBalance returns an empty balance for an asset.
func NewBalance(asset Asset) (Balance, error) {
	if asset.IsZero() {
		return Balance{}, newValueError("balance", "asset", "", "missing asset")
	}
	return Balance{asset: asset, available: ZeroAmount(asset), reserved: ZeroAmount(asset)}, nil
}

// BalanceOf rebuilds a balance from stored components.
func BalanceOf(available, reserved Amount) (Balance, error) {
	if available.Asset().IsZero() {
		return Balance{}, newValueError("balance", "available", "", "missing asset")
	}
	if !available.Asset().Equal(reserved.Asset()) {
		return Balance{}, newMismatchError("balance", available.Asset().Symbol(), reserved.Asset().Symbol())
	}
	if available.IsNegative() {
		return Balance{}, newValueError("balance", "available", available.Decimal().String(), "must not be negative")
	}
	if reserved.IsNegative() {
		return Balance{}, newValueError("balance", "reserved", reserved.Decimal().String(), "must not be negative")
	}
	return Balance{asset: available.Asset(), available: available, reserved: reserved}, nil
}

func (b Balance) Asset() Asset { return b.asset }

// Available returns the funds free for new commitments.
func (b Balance) Available() Amount { return b.available }

// Reserved returns the funds held against in-flight orders.
func (b Balance) Reserved() Amount { return b.reserved }

// Total returns available plus reserved.
func (b Balance) Total() Amount {
	return Amount{value: b.available.Decimal().Add(b.reserved.Decimal()), asset: b.asset}
}

func (b Balance) guard(op string, a Amount) error {
	if !a.Asset().Equal(b.asset) {
		return newMismatchError(op, b.asset.Symbol(), a.Asset().Symbol())
	}
	if !a.IsPositive() {
		return newOperationError(op, "amount must be positive")
	}
	return nil
}

// Deposit credits available funds.
func (b Balance) Deposit(a Amount) (Balance, error) {
	if err := b.guard("balance deposit", a); err != nil {
		return Balance{}, err
	}
	b.available = Amount{value: b.available.Decimal().Add(a.Decimal()), asset: b.asset}
	return b, nil
}

// Withdraw debits available funds; shortfalls fail rather than going
// negative.
func (b Balance) Withdraw(a Amount) (Balance, error) {
	if err := b.guard("balance withdraw", a); err != nil {
		return Balance{}, err
	}
	if b.available.Decimal().LessThan(a.Decimal()) {
		return Balance{}, b.fundsError(a)
	}
	b.available = Amount{value: b.available.Decimal().Sub(a.Decimal()), asset: b.asset}
	return b, nil
}

// Reserve moves funds from available to reserved ahead of an order.
func (b Balance) Reserve(a Amount) (Balance, error) {
	if err := b.guard("balance reserve", a); err != nil {
		return Balance{}, err
	}
	if b.available.Decimal().LessThan(a.Decimal()) {
		return Balance{}, b.fundsError(a)
	}
	b.available = Amount{value: b.available.Decimal().Sub(a.Decimal()), asset: b.asset}
	b.reserved = Amount{value: b.reserved.Decimal().Add(a.Decimal()), asset: b.asset}
	return b, nil
}

// Release returns reserved funds to available when an order dies
// unfilled.
func (b Balance) Release(a Amount) (Balance, error) {
	if err := b.guard("balance release", a); err != nil {
		return Balance{}, err
	}
	if b.reserved.Decimal().LessThan(a.Decimal()) {
		return Balance{}, newOperationError("balance release", "release exceeds reserved funds")
	}
	b.reserved = Amount{value: b.reserved.Decimal().Sub(a.Decimal()), asset: b.asset}
	b.available = Amount{value: b.available.Decimal().Add(a.Decimal()), asset: b.asset}
	return b, nil
}

// Settle consumes reserved funds once the matching order executed.
func (b Balance) Settle(a Amount) (Balance, error) {
	if err := b.guard("balance settle", a); err != nil {
		return Balance{}, err
	}
	if b.reserved.Decimal().LessThan(a.Decimal()) {
		return Balance{}, newOperationError("balance settle", "settlement exceeds reserved funds")
	}
	b.reserved = Amount{value: b.reserved.Decimal().Sub(a.Decimal()), asset: b.asset}
	return b, nil
}

func (b Balance) fundsError(required Amount) error {
	return &FundsError{
		Asset:     b.asset.Symbol(),
		Required:  required.Decimal().String(),
		Available: b.available.Decimal().String(),
	}
}

// BalanceState is the exported projection of a balance.
type BalanceState struct {
	Asset     string `json:"asset"`
	Available Amount `json:"available"`
	Reserved  Amount `json:"reserved"`
	Total     Amount `json:"total"`
}

// State returns the balance's projection.
func (b Balance) State() BalanceState {
	return BalanceState{
		Asset:     b.asset.Symbol(),
		Available: b.available,
		Reserved:  b.reserved,
		Total:     b.Total(),
	}
}

// MarshalJSON projects the balance state.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.State())
}
