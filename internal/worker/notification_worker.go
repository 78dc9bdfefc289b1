package worker

import (
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/service"
)

// StartNotificationWorker registers notification handlers and, when
// configured, the Redis event forwarder.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, publisher *service.RedisPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if publisher != nil {
		publisher.RegisterHandlers(dispatcher)
	}
}
