package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chatsync/internal/observability"
)

// Routing keys of domain events.
const (
	EventRelationshipChanged = "relationship.changed"
	EventMessageSent         = "chat.message_sent"
	EventMessagesCleared     = "chat.messages_cleared"
	EventAccountDeleted      = "account.deleted"
	EventWSConnected         = "ws_events.sync.connect"
	EventWSDisconnected      = "ws_events.sync.disconnect"
)

// DomainEvent describes a committed state change for downstream consumers.
type DomainEvent struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	OccurredAt    string            `json:"occurred_at"`
	Service       string            `json:"service"`
	RequestID     string            `json:"request_id,omitempty"`
	ActorID       string            `json:"actor_id"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// EventEmitter publishes domain events, using the event type as routing key.
type EventEmitter struct {
	publisher Publisher
	service   string
	log       *logrus.Entry
}

func NewEventEmitter(publisher Publisher, service string, log *logrus.Entry) *EventEmitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventEmitter{publisher: publisher, service: service, log: log.WithField("component", "events")}
}

// Emit is best effort; a failed publish is logged and otherwise ignored.
func (e *EventEmitter) Emit(ctx context.Context, eventType, actorID, subjectID string, attrs map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}
	ev := DomainEvent{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		RequestID:     observability.RequestIDFromContext(ctx),
		ActorID:       actorID,
		SubjectID:     subjectID,
		Attributes:    attrs,
	}
	if err := e.publisher.Publish(ctx, eventType, ev); err != nil {
		e.log.WithError(err).WithField("event_type", eventType).Warn("domain event publish failed")
	}
}
