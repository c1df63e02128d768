package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/telemetry"
)

// ErrConnectionLost is returned once the broker connection has closed.
var ErrConnectionLost = errors.New("rabbitmq connection lost")

// Publisher publishes notification, websocket and audit events as JSON on a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// headered events carry their own AMQP headers.
type headered interface {
	Headers() map[string]string
}

// NewPublisher connects to the broker and declares the exchange. Without a URL, or when the
// broker is unreachable, it returns a publisher that only logs.
func NewPublisher(amqpURL, exchange string, log zerolog.Logger) Publisher {
	log = log.With().Str("component", "rabbitmq").Logger()
	if amqpURL == "" {
		log.Info().Msg("rabbitmq disabled: empty amqp url")
		return noopPublisher{log: log}
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq disabled, events are logged only")
		return noopPublisher{log: log}
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}
	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	log.Info().Str("exchange", exchange).Msg("rabbitmq connected")
	return p
}

func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
	lost     atomic.Bool
}

// watch marks the publisher lost when the broker closes the connection.
func (p *amqpPublisher) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		p.log.Error().Str("reason", err.Reason).Int("code", err.Code).Msg("rabbitmq connection closed")
	}
	p.lost.Store(true)
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if p.lost.Load() {
		observability.IncAMQPPublishError()
		return ErrConnectionLost
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}

	headers := amqp.Table{}
	if h, ok := event.(headered); ok {
		for key, value := range h.Headers() {
			headers[key] = value
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		p.log.Warn().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	log zerolog.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	entry := p.log.Debug().Str("routing_key", routingKey)
	switch ev := event.(type) {
	case telemetry.AuditEnvelope:
		entry = entry.Str("event_type", ev.EventType).Str("request_id", ev.RequestID)
	case models.NotificationEvent:
		entry = entry.Str("event_type", ev.EventType).Str("notification_id", ev.Notification.ID)
	case observability.EventEnvelope:
		entry = entry.Str("event_type", ev.EventType).Str("event_name", ev.EventName)
	}
	entry.Msg("event not published")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}
