package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"chatsync/internal/observability"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestAuditEmitterCarriesRequestID(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.chatsync", "chatsync", "test", nil)
	ctx := observability.WithRequestID(context.Background(), "req-1")
	ctx, span := sdktrace.NewTracerProvider().Tracer("test").Start(ctx, "op")
	defer span.End()

	emitter.Record(ctx, AuditRecord{Action: "send_request", ActorID: "u1", Subject: "u2"})

	require.Len(t, pub.events, 1)
	env, ok := pub.events[0].(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit.chatsync", pub.keys[0])
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "u1", env.ActorID)
	assert.Equal(t, AuditInfo, env.Payload.Level)
	assert.Equal(t, "u2", env.Payload.Subject)
	assert.Equal(t, span.SpanContext().TraceID().String(), env.TraceID)
}

func TestEventEmitterRoutesByType(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewEventEmitter(pub, "chatsync", nil)

	emitter.Emit(context.Background(), EventRelationshipChanged, "a", "b", map[string]string{"op": "block"})

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventRelationshipChanged, pub.keys[0])
	ev := pub.events[0].(DomainEvent)
	assert.Equal(t, "a", ev.ActorID)
	assert.Equal(t, "block", ev.Attributes["op"])
}

func TestNilEmittersAreSafe(t *testing.T) {
	var audit *AuditEmitter
	var events *EventEmitter
	assert.NotPanics(t, func() {
		audit.Record(context.Background(), AuditRecord{Action: "x"})
		events.Emit(context.Background(), EventMessageSent, "a", "", nil)
	})
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "chatsync", "test", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
