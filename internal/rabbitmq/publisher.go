// Package rabbitmq publishes audit envelopes and domain events to a topic
// exchange. Without a reachable broker it degrades to a publisher that only
// logs.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"chatsync/internal/observability"
	"chatsync/internal/telemetry"
)

const confirmTimeout = 5 * time.Second

// Publisher publishes audit and domain events.
type Publisher = telemetry.Publisher

// NewPublisher dials amqpURL, declares exchange as a durable topic exchange
// and puts the channel in confirm mode. Any failure yields the noop publisher.
func NewPublisher(amqpURL, exchange string, log *logrus.Entry) Publisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "rabbitmq")

	if amqpURL == "" {
		log.Info("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	p, err := dial(amqpURL, exchange)
	if err != nil {
		log.WithError(err).Warn("rabbitmq disabled, using noop")
		return noopPublisher{reason: err.Error(), log: log}
	}
	p.log = log
	log.WithField("exchange", exchange).Info("rabbitmq connected")
	return p
}

func dial(amqpURL, exchange string) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *logrus.Entry
}

// Publish waits for the broker confirm so a dropped event is reported.
func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := newPublishing(ctx, event, time.Now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err == nil {
		waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		defer cancel()
		var acked bool
		acked, err = confirm.WaitContext(waitCtx)
		if err == nil && !acked {
			err = fmt.Errorf("broker nacked %s", routingKey)
		}
	}
	if err != nil {
		observability.IncAMQPPublishError()
		p.log.WithError(err).WithField("routing_key", routingKey).Warn("rabbitmq publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// newPublishing encodes event as a persistent JSON message carrying the
// request and trace ids of ctx as headers.
func newPublishing(ctx context.Context, event any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	headers := amqp.Table{}
	for k, v := range observability.HeadersFromContext(ctx) {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now.UTC(),
		Headers:      headers,
		Body:         body,
	}, nil
}

type noopPublisher struct {
	reason string
	log    *logrus.Entry
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	entry := p.log.WithField("routing_key", routingKey)
	switch ev := event.(type) {
	case telemetry.AuditEnvelope:
		entry = entry.WithFields(logrus.Fields{"action": ev.Payload.Action, "request_id": ev.RequestID})
	case telemetry.DomainEvent:
		entry = entry.WithFields(logrus.Fields{"actor_id": ev.ActorID, "request_id": ev.RequestID})
	}
	entry.Debug("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why p is the noop publisher.
func PublisherNoopReason(p Publisher) string {
	if np, ok := p.(noopPublisher); ok {
		return np.reason
	}
	return ""
}
