package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/mintmarket/internal/domain"
	"github.com/alanyoungcy/mintmarket/internal/server/ws"
)

// fanOutSink delivers each event to every wired sink. Per-sink failures are
// collected and joined; the emitters log them without affecting ledger state.
type fanOutSink struct {
	sinks []domain.EventSink
}

var _ domain.EventSink = (*fanOutSink)(nil)

func newFanOutSink(sinks ...domain.EventSink) *fanOutSink {
	return &fanOutSink{sinks: sinks}
}

func (f *fanOutSink) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logSink mirrors every event into the structured log.
func logSink(logger *slog.Logger) domain.EventSink {
	l := logger.With(slog.String("component", "events"))
	return domain.EventSinkFunc(func(ctx context.Context, ev domain.Event) error {
		l.InfoContext(ctx, ev.Name,
			slog.String("event_id", ev.ID),
			slog.Any("attrs", ev.Attrs),
		)
		return nil
	})
}

// storeSink journals every event into the Postgres event store.
func storeSink(store domain.EventStore) domain.EventSink {
	return domain.EventSinkFunc(func(ctx context.Context, ev domain.Event) error {
		if err := store.Insert(ctx, ev); err != nil {
			return fmt.Errorf("app: journal event %s: %w", ev.ID, err)
		}
		return nil
	})
}

// busSink publishes every event to the Redis bus: the firehose channel, a
// per-name channel, and the capped catch-up stream.
func busSink(bus domain.EventBus) domain.EventSink {
	return domain.EventSinkFunc(func(ctx context.Context, ev domain.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("app: marshal event %s: %w", ev.ID, err)
		}
		var errs []error
		if err := bus.Publish(ctx, ws.EventChannel, payload); err != nil {
			errs = append(errs, err)
		}
		if err := bus.Publish(ctx, ws.EventChannelPrefix+ev.Name, payload); err != nil {
			errs = append(errs, err)
		}
		if err := bus.StreamAppend(ctx, ws.EventChannel, payload); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// tradeRecorder adapts the Postgres trade store to the engine's recorder hook.
type tradeRecorder struct {
	store domain.TradeStore
}

func (r *tradeRecorder) Record(ctx context.Context, t domain.Trade) error {
	return r.store.Insert(ctx, t)
}
