// Package notify delivers operator alerts for ledger events. Alerts are
// dispatched to all registered senders (Telegram, Discord) and filtered by
// event type so operators receive only the alerts they care about — typically
// policy violations and pending human approvals.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fabrknt/flowguard/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; Event only forwards ledger events whose type is in the
// allowed set.
type Notifier struct {
	senders []Sender
	events  map[domain.AuditEventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded. If events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.AuditEventType]bool, len(events))
	for _, e := range events {
		allowed[domain.AuditEventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Event formats a ledger event into an operator alert and dispatches it.
// Filtered or failed deliveries never fail the caller; sender errors are
// logged and returned for observability only.
func (n *Notifier) Event(ctx context.Context, e domain.AuditEvent) error {
	if len(n.events) > 0 && !n.events[e.EventType] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(e.EventType)),
		)
		return nil
	}

	title := title(e.EventType)
	var b strings.Builder
	if e.PositionID != nil {
		fmt.Fprintf(&b, "position: %s\n", *e.PositionID)
	}
	fmt.Fprintf(&b, "actor: %s", e.Actor)
	for k, v := range e.Payload {
		fmt.Fprintf(&b, "\n%s: %v", k, v)
	}

	return n.dispatch(ctx, title, b.String())
}

func title(t domain.AuditEventType) string {
	switch t {
	case domain.AuditPolicyViolation:
		return "Policy violation"
	case domain.AuditHumanApprovalRequired:
		return "Human approval required"
	case domain.AuditHumanApprovalGranted:
		return "Human approval granted"
	case domain.AuditRebalanced:
		return "Position rebalanced"
	case domain.AuditFeesCollected:
		return "Fees collected"
	case domain.AuditPositionClosed:
		return "Position closed"
	default:
		return strings.ReplaceAll(string(t), "_", " ")
	}
}

// dispatch iterates over all senders and sends the alert. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
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
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
