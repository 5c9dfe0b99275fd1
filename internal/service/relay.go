package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// EventsChannel is the pub/sub channel and stream committed events go to.
const EventsChannel = "events"

// EventNotifier delivers an event to operator channels.
type EventNotifier interface {
	Notify(ctx context.Context, e domain.Event) error
}

// EventRelay fans committed events out to the signal bus and the notifier.
// It runs as a runtime observer, so failures are logged and never revert.
type EventRelay struct {
	bus      domain.SignalBus
	notifier EventNotifier
	replay   func() bool
	logger   *slog.Logger
}

// NewEventRelay creates a relay. bus and notifier may be nil.
func NewEventRelay(bus domain.SignalBus, notifier EventNotifier, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		bus:      bus,
		notifier: notifier,
		replay:   func() bool { return false },
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// Attach registers the relay as an observer of s. Events produced while s
// replays its call log are not relayed.
func (r *EventRelay) Attach(s *LedgerService) {
	r.replay = s.Replaying
	s.Observe(r.Observe)
}

// Observe implements chain.Observer.
func (r *EventRelay) Observe(ctx context.Context, receipt *chain.Receipt) {
	if r.replay() {
		return
	}
	for _, e := range receipt.Events {
		r.publish(ctx, e)
		if r.notifier == nil {
			continue
		}
		if err := r.notifier.Notify(ctx, e); err != nil {
			r.logger.WarnContext(ctx, "notify failed",
				slog.String("event", string(e.Kind)),
				slog.Uint64("block", e.Block),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *EventRelay) publish(ctx context.Context, e domain.Event) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, EventsChannel, payload); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, EventsChannel, payload); err != nil {
		r.logger.WarnContext(ctx, "stream append failed",
			slog.String("event", string(e.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
