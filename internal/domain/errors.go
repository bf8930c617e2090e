package domain

import (
	"errors"
	"fmt"
)

// Category sentinels for the five failure kinds the core can produce.
// Concrete errors wrap one of these, so callers branch with errors.Is
// and recover detail with errors.As.
var (
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEntityValidation  = errors.New("entity validation failed")
)

// Infrastructure sentinels shared by stores, caches and the bus.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrLockHeld              = errors.New("lock already held")
	ErrBusClosed             = errors.New("signal bus closed")
)

// ValueError reports a value-type invariant violated at construction.
type ValueError struct {
	Type   string // value type being constructed
	Field  string // offending field
	Value  string // offending input, stringified
	Reason string
}

func (e *ValueError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s: %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %q: %s", e.Type, e.Field, e.Value, e.Reason)
}

func (e *ValueError) Unwrap() error { return ErrInvalidValue }

func newValueError(typ, field, value, reason string) error {
	return &ValueError{Type: typ, Field: field, Value: value, Reason: reason}
}

// OperationError reports a runtime rule broken by an otherwise valid
// operation, such as arithmetic across mismatched assets or a
// non-finite scalar operand.
type OperationError struct {
	Op     string
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *OperationError) Unwrap() error { return ErrInvalidOperation }

func newOperationError(op, reason string) error {
	return &OperationError{Op: op, Reason: reason}
}

func newMismatchError(op, want, got string) error {
	return &OperationError{Op: op, Reason: fmt.Sprintf("mismatched operands: %s vs %s", want, got)}
}

// TransitionError reports an entity method invoked in a state that does
// not permit it. From carries the entity's current state, Event the
// attempted action.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s while %s", e.Entity, e.ID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func newTransitionError(entity, id, from, event string) error {
	return &TransitionError{Entity: entity, ID: id, From: from, Event: event}
}

// FundsError reports a balance guarantee that cannot be met.
type FundsError struct {
	Asset     string
	Required  string
	Available string
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient %s: required %s, available %s", e.Asset, e.Required, e.Available)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }

// EntityError reports a cross-field business-rule violation on an Order
// or Position that no single value object can catch.
type EntityError struct {
	Entity string
	ID     string
	Reason string
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *EntityError) Unwrap() error { return ErrEntityValidation }

func newEntityError(entity, id, reason string) error {
	return &EntityError{Entity: entity, ID: id, Reason: reason}
}
