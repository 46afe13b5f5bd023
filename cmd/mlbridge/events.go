package main

import (
	"github.com/charmbracelet/log"
	"github.com/mlbridge/mlbridge/internal/events"
)

// newLoggingBus builds the process-wide event bus with a subscriber that
// mirrors session and health events into the structured log.
func newLoggingBus(logger *log.Logger) *events.InMemoryBus {
	bus := events.New()
	bus.SubscribeAll(func(event events.Event) {
		record := logger.With("event", event.Type, "session_id", event.SessionID)
		switch event.Severity {
		case events.SeverityError:
			record.Error("bus event")
		case events.SeverityWarn:
			record.Warn("bus event")
		default:
			record.Debug("bus event")
		}
	})
	return bus
}
