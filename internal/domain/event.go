package domain

import (
	"strings"
	"time"
)

// EventType names a domain event published on the signal bus.
type EventType string

const (
	EventOrderCreated         EventType = "order.created"
	EventOrderSubmitted       EventType = "order.submitted"
	EventOrderOpened          EventType = "order.opened"
	EventOrderPartiallyFilled EventType = "order.partially_filled"
	EventOrderFilled          EventType = "order.filled"
	EventOrderCancelled       EventType = "order.cancelled"
	EventOrderRejected        EventType = "order.rejected"
	EventOrderFailed          EventType = "order.failed"

	EventPositionCreated    EventType = "position.created"
	EventPositionOpened     EventType = "position.opened"
	EventPositionClosing    EventType = "position.closing"
	EventPositionClosed     EventType = "position.closed"
	EventPositionLiquidated EventType = "position.liquidated"
	EventPositionStopsMoved EventType = "position.stops_moved"

	EventBalanceUpdated EventType = "balance.updated"
	EventBookUpdated    EventType = "book.updated"
	EventPriceUpdated   EventType = "price.updated"
	EventCandleClosed   EventType = "candle.closed"
)

// Channel returns the pub/sub channel an event type is published on,
// one channel per entity kind.
func (t EventType) Channel() string {
	kind, _, ok := strings.Cut(string(t), ".")
	if !ok {
		return "events." + string(t)
	}
	return "events." + kind
}

// Event is a record of a domain state change, published on the signal
// bus and mirrored to a durable stream for replay.
type Event struct {
	ID        string            `json:"id"` // UUID for dedup
	Type      EventType         `json:"type"`
	Pair      string            `json:"pair,omitempty"`
	EntityID  string            `json:"entityId,omitempty"`
	Actor     string            `json:"actor,omitempty"` // service or agent that caused the change
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Channel returns the pub/sub channel for this event.
func (e Event) Channel() string { return e.Type.Channel() }
