package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"messaging-core/internal/observability"
)

const auditSchemaVersion = 1

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEvent describes one security relevant action, such as a rejected append.
type AuditEvent struct {
	Level     string
	Text      string
	RequestID string
	UserID    *string
	RoomID    string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	RoomID string `json:"room_id,omitempty"`
}

// Headers carry the request and trace ids on the AMQP message.
func (e AuditEnvelope) Headers() map[string]string {
	return observability.BuildHeaders(e.RequestID, e.TraceID)
}

// AuditEmitter publishes audit records. A nil emitter discards them.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         zerolog.Logger
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log.With().Str("component", "audit").Logger(),
		now:         time.Now,
	}
}

// Emit logs the event locally and publishes it. Publish failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, ev AuditEvent) {
	if e == nil {
		return
	}

	level, err := zerolog.ParseLevel(ev.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	e.log.WithLevel(level).Str("request_id", ev.RequestID).Str("room_id", ev.RoomID).Msg(ev.Text)

	if e.publisher == nil {
		return
	}
	envelope := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     ev.RequestID,
		TraceID:       observability.TraceID(ctx),
		UserID:        ev.UserID,
		Payload:       AuditPayload{Level: level.String(), Text: ev.Text, RoomID: ev.RoomID},
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn().Err(err).Msg("audit publish failed")
	}
}
