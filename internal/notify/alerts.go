package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantari/tradecore/internal/domain"
)

// AlertWatcher bridges the signal bus to the notifier. It subscribes to
// the order and position channels and renders the events operators act
// on: entries confirmed, settlements, liquidations, and order failures.
// Routine flow (book ticks, candles, balance updates) never reaches it.
type AlertWatcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAlertWatcher creates an AlertWatcher.
func NewAlertWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *AlertWatcher {
	return &AlertWatcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_watcher")),
	}
}

// Run consumes bus events until the context is cancelled or the bus
// closes the channel. Delivery failures are logged and skipped; the
// watcher never stops over a webhook outage.
func (w *AlertWatcher) Run(ctx context.Context) error {
	events, err := w.bus.Subscribe(ctx,
		domain.EventOrderFailed.Channel(),
		domain.EventPositionClosed.Channel(),
	)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	w.logger.InfoContext(ctx, "alert watcher started",
		slog.Int("channels", w.notifier.Channels()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			title, message, wanted := renderAlert(event)
			if !wanted {
				continue
			}
			if err := w.notifier.Notify(ctx, string(event.Type), title, message); err != nil {
				w.logger.WarnContext(ctx, "alert delivery incomplete",
					slog.String("event", string(event.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// renderAlert formats one event for operators. Events outside the alert
// set report wanted=false.
func renderAlert(event domain.Event) (title, message string, wanted bool) {
	switch event.Type {
	case domain.EventPositionOpened:
		return "Position opened", positionLine(event,
			field(event, "actualEntry", "entry"),
			field(event, "actualSize", "size"),
		), true
	case domain.EventPositionClosed:
		return "Position closed", positionLine(event,
			field(event, "realizedPnl", "pnl"),
			field(event, "reason", "reason"),
		), true
	case domain.EventPositionLiquidated:
		return "Position liquidated", positionLine(event,
			field(event, "exitPrice", "exit"),
			field(event, "realizedPnl", "pnl"),
		), true
	case domain.EventOrderRejected:
		return "Order rejected", orderLine(event), true
	case domain.EventOrderFailed:
		return "Order failed", orderLine(event), true
	default:
		return "", "", false
	}
}

func positionLine(event domain.Event, extra ...string) string {
	parts := []string{event.Pair, event.EntityID}
	parts = append(parts, extra...)
	return joinParts(parts)
}

func orderLine(event domain.Event) string {
	return joinParts([]string{
		event.Pair,
		event.EntityID,
		field(event, "reason", "reason"),
	})
}

func field(event domain.Event, key, label string) string {
	v := event.Detail[key]
	if v == "" {
		return ""
	}
	return label + " " + v
}

func joinParts(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
