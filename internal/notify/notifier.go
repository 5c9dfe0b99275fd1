// Package notify delivers product lifecycle alerts to operator channels
// (Telegram, Discord). Events are filtered by kind so operators only receive
// the alerts they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// maxThrottleWait bounds how long a message waits for its sender's limiter.
const maxThrottleWait = 2 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only the event kinds in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	format  Formatter
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. An empty events list
// allows every kind.
func NewNotifier(senders []Sender, events []string, format Formatter, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		format:  format,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithLimiter throttles each sender through l, keyed by sender name.
func (n *Notifier) WithLimiter(l domain.RateLimiter) *Notifier {
	n.limiter = l
	return n
}

// throttle waits for the sender's rate limit. Notifications run on the
// submitting call's path, so the wait is capped and an over-limit message is
// dropped.
func (n *Notifier) throttle(ctx context.Context, sender string) error {
	if n.limiter == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, maxThrottleWait)
	defer cancel()
	return n.limiter.Wait(wctx, "notify:"+sender)
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether kind passes the event filter.
func (n *Notifier) Allows(kind domain.EventKind) bool {
	return len(n.events) == 0 || n.events[kind]
}

// Notify formats e and sends it when its kind is allowed.
func (n *Notifier) Notify(ctx context.Context, e domain.Event) error {
	if !n.Allows(e.Kind) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(e.Kind)),
		)
		return nil
	}
	title, message := n.format.Event(e)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form notification to all senders.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. One failing sender does not stop delivery
// to the rest; all failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := n.throttle(ctx, s.Name()); err != nil {
			errs = append(errs, fmt.Errorf("%s: throttled: %w", s.Name(), err))
			continue
		}
		if err := s.Send(ctx, title, message); err != nil {
			attrs := []any{slog.String("sender", s.Name()), slog.String("error", err.Error())}
			var derr *DeliveryError
			if errors.As(err, &derr) && derr.RetryAfter > 0 {
				attrs = append(attrs, slog.Duration("retry_after", derr.RetryAfter))
			}
			n.logger.ErrorContext(ctx, "sender failed", attrs...)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
