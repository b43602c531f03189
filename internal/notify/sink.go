// Package notify delivers lifecycle events to external channels. Delivery is
// best effort and never feeds back into tenant state.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"go.uber.org/zap"
)

// Sink delivers one event to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev models.LifecycleEvent) error
}

// LogSink writes events to the service log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, ev models.LifecycleEvent) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("tenant_id", ev.TenantID.String()),
		zap.String("tenant_name", ev.TenantName),
		zap.String("kind", string(ev.Kind)),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Payload.Actor != "" {
		fields = append(fields, zap.String("actor", ev.Payload.Actor))
	}
	if ev.Payload.NewTrialEndDate != nil {
		fields = append(fields, zap.Time("new_trial_end_date", *ev.Payload.NewTrialEndDate))
	}
	if ev.Payload.AdditionalDays != 0 {
		fields = append(fields, zap.Int("additional_days", ev.Payload.AdditionalDays))
	}
	if ev.Kind == models.EventTrialEnding {
		fields = append(fields, zap.Int("days_remaining", ev.Payload.DaysRemaining))
	}
	s.log.Info("lifecycle event", fields...)
	return nil
}

// MultiSink fans an event out to every sink. One sink failing does not stop
// the others; the failures are joined.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Send(ctx context.Context, ev models.LifecycleEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
