// Package notify turns domain events into operator alerts. A Notifier tails
// the event stream and fans each allowed event out to every configured
// channel (Telegram, Discord). One-sided exposure alerts bypass the event
// filter: an unhedged position is never something an operator opted out of.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

// readBatch is how many stream entries one poll pulls.
const readBatch = 50

// readRetryDelay spaces out polls after a stream read failure.
const readRetryDelay = 5 * time.Second

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier tails the event bus and alerts on the configured event types.
type Notifier struct {
	bus     domain.EventBus
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

// NewNotifier wires a Notifier. Only events whose type appears in events are
// forwarded; an empty list forwards everything. Exposure alerts
// (trade_partial) are forwarded regardless.
func NewNotifier(bus domain.EventBus, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		bus:     bus,
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Run consumes the event stream until ctx is cancelled, starting from new
// entries only: alerts about events that predate the process are stale by
// definition. Always returns ctx.Err().
func (n *Notifier) Run(ctx context.Context) error {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entries, err := n.bus.Read(ctx, lastID, readBatch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.WarnContext(ctx, "event stream read failed",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readRetryDelay):
			}
			continue
		}

		for _, entry := range entries {
			lastID = entry.ID
			if !n.wants(entry.Event.Type) {
				continue
			}
			title, message := formatEvent(entry.Event)
			n.dispatch(ctx, title, message)
		}
	}
}

// wants reports whether the event type passes the configured filter.
func (n *Notifier) wants(t domain.EventType) bool {
	if t == domain.EventTradePartial {
		return true
	}
	if len(n.events) == 0 {
		return true
	}
	return n.events[string(t)]
}

// dispatch delivers one alert to every sender. A failing channel never
// blocks the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// formatEvent renders one event as an alert title and body.
func formatEvent(e domain.Event) (title, message string) {
	d := e.Detail
	switch e.Type {
	case domain.EventTradePartial:
		return "Unhedged position open",
			fmt.Sprintf("Trade %v is one-sided: %v. Close or re-hedge it.", d["trade_id"], d["reason"])
	case domain.EventTradeFailed:
		return "Trade failed",
			fmt.Sprintf("Trade %v failed: %v", d["trade_id"], d["reason"])
	case domain.EventTradeCompleted:
		if d["rehedged"] == true {
			return "Position re-hedged",
				fmt.Sprintf("Trade %v completed its missing leg.", d["trade_id"])
		}
		return "Trade executed",
			fmt.Sprintf("Trade %v hedged both legs for %s, locked profit %s.",
				d["trade_id"], money(d["total_cost"]), money(d["expected_profit"]))
	case domain.EventTradeSettled:
		return "Trade settled",
			fmt.Sprintf("Trade %v paid out %s, realized profit %s.",
				d["trade_id"], money(d["payout"]), money(d["actual_profit"]))
	case domain.EventTradeClosed:
		return "Positions closed",
			fmt.Sprintf("Trade %v closed early, realized profit %s.",
				d["trade_id"], money(d["actual_profit"]))
	case domain.EventTradeStale:
		return "Trade marked stale",
			fmt.Sprintf("Trade %v: %v", d["trade_id"], d["reason"])
	case domain.EventOpportunityFound:
		return "New opportunity",
			fmt.Sprintf("%v (spread %.2f%%)", d["question"], number(d["spread_percent"]))
	case domain.EventJobCompleted:
		return "Job completed", fmt.Sprintf("%v finished.", d["job"])
	default:
		return string(e.Type), fmt.Sprintf("%v", d)
	}
}

// money renders a minor-unit amount from event detail. Stream payloads pass
// through JSON, so numbers arrive as float64.
func money(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", f/float64(domain.WinnerPayoutMinor))
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
