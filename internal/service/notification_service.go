package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/events"
)

// NotificationService turns engine events into structured log records for supervisors.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     orNopLogger(logger),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCaseCreated, n.handleInfo)
	n.dispatcher.Subscribe(events.EventCaseStatusChanged, n.handleInfo)
	n.dispatcher.Subscribe(events.EventCaseAssigned, n.handleInfo)
	n.dispatcher.Subscribe(events.EventCommentRecorded, n.handleInfo)
	n.dispatcher.Subscribe(events.EventCaseQueued, n.handleAttention)
	n.dispatcher.Subscribe(events.EventSLABreached, n.handleAttention)
}

func (n *NotificationService) handleInfo(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), n.fields(event)...)
	return nil
}

// handleAttention logs events a supervisor should act on.
func (n *NotificationService) handleAttention(_ context.Context, event events.Event) error {
	n.logger.Warn(string(event.Type), n.fields(event)...)
	return nil
}

func (n *NotificationService) fields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.String("case_id", event.CaseID),
		zap.String("actor_id", event.Actor.ID),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	}
}
