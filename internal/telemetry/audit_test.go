package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.messaging", "messaging-core", "test", zerolog.Nop())
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	user := "mallory"
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.EventType == "audit_log" &&
			e.RequestID == "req-1" &&
			*e.UserID == "mallory" &&
			e.Payload.Level == "warn" &&
			e.Payload.RoomID == "room-1" &&
			e.OccurredAt == "2024-05-01T12:00:00Z" &&
			e.Headers()["x-request-id"] == "req-1"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), AuditEvent{Level: "WARN", Text: "append rejected", RequestID: "req-1", UserID: &user, RoomID: "room-1"})
	publisher.AssertExpectations(t)
}

func TestEmitUnknownLevelFallsBackToInfo(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.messaging", "messaging-core", "test", zerolog.Nop())
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.Payload.Level == "info"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), AuditEvent{Level: "LOUD", Text: "x"})
	publisher.AssertExpectations(t)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.messaging", "messaging-core", "test", zerolog.Nop())
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditEvent{Level: "INFO", Text: "x"})
	})
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditEvent{Text: "x"})
	})
}
