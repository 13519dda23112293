package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"
)

// activitySubjects are the event families mirrored to the server log so an
// operator can follow what the agents are doing without tailing the DB.
var activitySubjects = []string{"agent.>", "task.>", "message.>", "revision.>"}

// registerActivityLogger subscribes a log-only handler to the activity
// subjects. Subscription failures are logged and otherwise ignored; the
// activity log is best-effort.
func registerActivityLogger(eventBus bus.EventBus, log *logger.Logger) {
	activity := log.WithFields(zap.String("component", "activity"))
	handler := func(ctx context.Context, event *bus.Event) error {
		activity.Info("activity",
			zap.String("subject", event.Type),
			zap.String("source", event.Source),
			zap.Any("data", event.Data))
		return nil
	}
	for _, subject := range activitySubjects {
		if _, err := eventBus.Subscribe(subject, handler); err != nil {
			log.Warn("failed to subscribe activity logger",
				zap.String("subject", subject), zap.Error(err))
		}
	}
}
