package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

// Notifier is signalled after a message commits to a room.
type Notifier interface {
	Notify(roomID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// MessageStoreConfig bounds pagination and content.
type MessageStoreConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxContentLength int
}

// DefaultMessageStoreConfig returns the limits used when none are configured.
func DefaultMessageStoreConfig() MessageStoreConfig {
	return MessageStoreConfig{DefaultPageSize: 50, MaxPageSize: 200, MaxContentLength: 4000}
}

// MessageStore is the ordered per-room message log.
type MessageStore struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	notifier Notifier
	cfg      MessageStoreConfig
	log      zerolog.Logger
}

func NewMessageStore(rooms repositories.RoomRepository, messages repositories.MessageRepository, notifier Notifier, cfg MessageStoreConfig, log zerolog.Logger) *MessageStore {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	defaults := DefaultMessageStoreConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaults.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaults.MaxPageSize
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &MessageStore{
		rooms:    rooms,
		messages: messages,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "message_store").Logger(),
	}
}

// Append validates and commits a message, then wakes the room's subscribers. A missing room
// or a sender outside it is reported before invalid content.
func (s *MessageStore) Append(ctx context.Context, roomID, senderID, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageStore.Append")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID))

	content = strings.TrimSpace(content)
	if !s.validContent(content) {
		// AppendMessage checks membership in its own transaction; only a rejected body needs
		// the extra lookup.
		if err := s.Authorize(ctx, roomID, senderID); err != nil {
			return models.Message{}, err
		}
		return models.Message{}, repositories.ErrInvalidContent
	}

	msg, err := s.messages.AppendMessage(ctx, roomID, senderID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append message")
		if repositories.IsTransient(err) {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("append failed")
		}
		return models.Message{}, err
	}
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	s.notifier.Notify(roomID)
	return msg, nil
}

func (s *MessageStore) validContent(content string) bool {
	if content == "" {
		return false
	}
	return s.cfg.MaxContentLength <= 0 || utf8.RuneCountInString(content) <= s.cfg.MaxContentLength
}

// GetMessages returns up to limit messages strictly after the cursor in commit order.
func (s *MessageStore) GetMessages(ctx context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageStore.GetMessages")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID))

	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	msgs, err := s.messages.ListMessages(ctx, roomID, after, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list messages")
		return nil, err
	}
	return msgs, nil
}

// Authorize checks that userID may read the room.
func (s *MessageStore) Authorize(ctx context.Context, roomID, userID string) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(userID) {
		return repositories.ErrUnauthorized
	}
	return nil
}

// MarkRead advances the participant's last_read_at. A zero time means now.
func (s *MessageStore) MarkRead(ctx context.Context, roomID, userID string, at time.Time) error {
	if err := s.Authorize(ctx, roomID, userID); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.rooms.MarkRead(ctx, roomID, userID, at)
}
