package workflow

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/contractflow/contractflow/pkg/telemetry"
)

// EventNotifier publishes notifications on the telemetry event queue.
type EventNotifier struct {
	events  *telemetry.EventPublisher
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewEventNotifier returns a Notifier backed by events. metrics may be nil.
func NewEventNotifier(events *telemetry.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) *EventNotifier {
	return &EventNotifier{events: events, metrics: metrics, logger: logger}
}

// Notify implements Notifier. Publish failures are logged and counted, never returned.
func (n *EventNotifier) Notify(_ context.Context, note Notification) {
	if n.events == nil {
		return
	}
	err := n.events.Publish(telemetry.Event{
		Action:     string(note.Action),
		ContractID: note.ContractID,
		TrackID:    note.TrackID,
		TrackType:  string(note.TrackType),
		ActorID:    note.ActorID,
		From:       string(note.From),
		To:         string(note.To),
		Comment:    note.Comment,
	})
	if err != nil {
		n.metrics.RecordNotificationDropped()
		n.logger.Warn().Err(err).
			Str("action", string(note.Action)).
			Str("contract_id", note.ContractID).
			Msg("Notification dropped")
	}
}
