// Package notify delivers operator alerts through chat webhooks. Alerts
// originate as signal bus events: the AlertWatcher renders the ones
// operators act on and the Notifier fans them out to every configured
// channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel ("telegram", "discord") in logs.
	Name() string
}

// Notifier fans alerts out to all senders, filtered by event type. The
// allow list accepts exact types ("position.closed") or a trailing-*
// prefix ("order.*"); an empty list admits every type.
type Notifier struct {
	senders []Sender
	allowed []string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// is the allow list; empty means unfiltered.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make([]string, 0, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed = append(allowed, e)
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Channels reports how many delivery channels are configured.
func (n *Notifier) Channels() int { return len(n.senders) }

// Notify delivers to every channel when the event type passes the allow
// list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.wants(event) {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll bypasses the allow list, for operational notices such as
// startup and shutdown.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) wants(event string) bool {
	if len(n.allowed) == 0 {
		return true
	}
	for _, pattern := range n.allowed {
		if pattern == event {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(event, prefix) {
			return true
		}
	}
	return false
}

// dispatch sends to every channel; one channel failing does not stop
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d channels failed: %s", len(errs), len(n.senders), strings.Join(errs, "; "))
	}
	return nil
}
