package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
)

func newEvent(tc domain.TenantContext, eventType events.EventType, caseID string, payload any, at time.Time) events.Event {
	return events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TenantID:  tc.TenantID,
		CaseID:    caseID,
		Actor:     events.Actor{ID: tc.Actor(), Role: tc.Role},
		Timestamp: at,
		Payload:   payload,
	}
}

// publishEvents hands events to the dispatcher after the state change committed.
// Subscriber failures are logged; the committed change stands.
func publishEvents(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, evs ...events.Event) {
	if dispatcher == nil {
		return
	}
	for _, ev := range evs {
		if err := dispatcher.Publish(ctx, ev); err != nil {
			logger.Warn("event subscriber failed",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
				zap.String("case_id", ev.CaseID),
				zap.Error(err))
		}
	}
}
