package services

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

var tracer = otel.Tracer("messaging-core/services")

// RoomResolver maps an unordered user pair to its single room.
type RoomResolver struct {
	rooms repositories.RoomRepository
	log   zerolog.Logger
}

func NewRoomResolver(rooms repositories.RoomRepository, log zerolog.Logger) *RoomResolver {
	return &RoomResolver{rooms: rooms, log: log.With().Str("component", "room_resolver").Logger()}
}

// GetOrCreateRoom returns the room id of the pair, creating the room on first use. Either argument
// order and any number of concurrent callers yield the same id.
func (r *RoomResolver) GetOrCreateRoom(ctx context.Context, userA, userB string) (string, error) {
	ctx, span := tracer.Start(ctx, "RoomResolver.GetOrCreateRoom")
	defer span.End()

	if userA == "" || userB == "" || userA == userB {
		return "", repositories.ErrInvalidParticipants
	}

	low, high := models.CanonicalPair(userA, userB)
	room, created, err := r.rooms.CreateRoomIfAbsent(ctx, models.Room{
		ID:             models.RoomIDFor(low, high),
		ParticipantIDs: []string{low, high},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create room")
		return "", err
	}
	span.SetAttributes(attribute.String("room.id", room.ID), attribute.Bool("room.created", created))
	if created {
		r.log.Info().Str("room_id", room.ID).Msg("room created")
	}
	return room.ID, nil
}

// Room fetches a room record.
func (r *RoomResolver) Room(ctx context.Context, roomID string) (models.Room, error) {
	return r.rooms.GetRoom(ctx, roomID)
}
