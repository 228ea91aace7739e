package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"chatsync/internal/observability"
)

// Publisher delivers an event to the broker under routingKey.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditLevel string

const (
	AuditInfo AuditLevel = "INFO"
	AuditWarn AuditLevel = "WARN"
)

// AuditRecord is one audited action: who did what to whom.
type AuditRecord struct {
	Level   AuditLevel
	Action  string
	ActorID string
	Subject string
	Text    string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	TraceID       string       `json:"trace_id,omitempty"`
	ActorID       string       `json:"actor_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   AuditLevel `json:"level"`
	Action  string     `json:"action"`
	Subject string     `json:"subject,omitempty"`
	Text    string     `json:"text,omitempty"`
}

// AuditEmitter publishes audit envelopes on a fixed routing key.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
	log         *logrus.Entry
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *logrus.Entry) *AuditEmitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
		log:         log.WithField("component", "audit"),
	}
}

// Record publishes r. Request and trace ids come from ctx. Publish failures
// are logged, never returned.
func (e *AuditEmitter) Record(ctx context.Context, r AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if r.Level == "" {
		r.Level = AuditInfo
	}

	env := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     observability.RequestIDFromContext(ctx),
		ActorID:       r.ActorID,
		Payload: AuditPayload{
			Level:   r.Level,
			Action:  r.Action,
			Subject: r.Subject,
			Text:    r.Text,
		},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}

	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.log.WithError(err).WithField("action", r.Action).Warn("audit publish failed")
	}
}
