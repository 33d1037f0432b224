// Package notify delivers escalation alerts to human operators. The pipeline
// is autonomous until a proposal needs human review or a dispute escalates;
// those two events are the only ones that page anyone, and they fan out to
// every configured channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, subject, text string) error
	Name() string
}

// Notifier fans a single alert out to all configured senders. One sender
// failing does not stop delivery to the rest.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// New creates a Notifier over the given senders. With no senders it is a
// silent no-op, which keeps escalation paths unconditional in the callers.
func New(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender, collecting failures.
func (n *Notifier) Notify(ctx context.Context, subject, text string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, subject, text); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("subject", subject),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
