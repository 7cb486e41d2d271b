// Package notify fans lifecycle events out to operator-facing channels.
// Each channel is a Sender (Telegram, Discord, the websocket feed); the
// Notifier renders an event once and delivers it to every registered sender,
// optionally filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oddsflow/settler/internal/domain"
)

// Sender is a single delivery channel.
type Sender interface {
	// Send delivers a rendered notification.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier implements domain.Publisher over a set of Senders. Delivery is
// best-effort: a failing sender is logged and skipped, never retried, and
// never blocks the remaining senders.
type Notifier struct {
	senders []Sender
	events  map[domain.LifecycleEventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only event
// types listed in events are forwarded; an empty list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.LifecycleEventType]bool, len(events))
	for _, e := range events {
		allowed[domain.LifecycleEventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish renders the event and dispatches it to all senders.
func (n *Notifier) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
		)
		return nil
	}

	title, message := render(ev)
	return n.dispatch(ctx, title, message)
}

// render produces the human-readable title and body for an event.
func render(ev domain.LifecycleEvent) (title, message string) {
	name := ev.MarketTitle
	if name == "" {
		name = ev.MarketID
	}

	switch ev.Type {
	case domain.LifecycleMarketClosed:
		return "Market closed",
			fmt.Sprintf("%s is now closed for betting (event %s).", name, ev.EventID)
	case domain.LifecycleMarketResolved:
		return "Market settled",
			fmt.Sprintf("%s settled with %d winning outcome(s) at %s.",
				name, len(ev.WinningOutcomeIDs), ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	default:
		return string(ev.Type), fmt.Sprintf("%s (event %s)", name, ev.EventID)
	}
}

// dispatch delivers to every sender, collecting failures into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
