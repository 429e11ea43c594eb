package worker

import (
	"github.com/spec-kit/case-engine/internal/events"
	"github.com/spec-kit/case-engine/internal/service"
)

// StartNotificationWorker registers the event subscribers. The Kafka sink is optional.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, publisher *events.KafkaPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if publisher != nil && dispatcher != nil {
		publisher.Register(dispatcher)
	}
}
