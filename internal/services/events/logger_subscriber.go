package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs job lifecycle events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if job, ok := event.Payload.(*models.Job); ok {
			logEvent = logEvent.
				Str("job_id", job.ID).
				Str("status", string(job.Status))
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobCompleted,
		interfaces.EventJobLog,
		interfaces.EventSweepRan,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
