package repositories

import (
	"context"
	"time"

	"messaging-core/internal/models"
)

// RoomRepository abstracts room and participant persistence.
type RoomRepository interface {
	// CreateRoomIfAbsent inserts the room and both participant rows atomically. When a room for
	// the same pair already exists it is returned unchanged and created is false.
	CreateRoomIfAbsent(ctx context.Context, room models.Room) (stored models.Room, created bool, err error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	GetParticipant(ctx context.Context, roomID string, userID string) (models.Participant, error)
	MarkRead(ctx context.Context, roomID string, userID string, at time.Time) error
}

// MessageRepository is the ordered per-room message log.
type MessageRepository interface {
	// AppendMessage validates membership and commits the message. Appends to the same room
	// serialize; created_at and id are assigned in commit order.
	AppendMessage(ctx context.Context, roomID string, senderID string, content string) (models.Message, error)
	// ListMessages returns up to limit messages strictly after the cursor, ascending.
	ListMessages(ctx context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error)
	// LatestCursor returns the position of the newest message, or nil for an empty room.
	LatestCursor(ctx context.Context, roomID string) (*models.Cursor, error)
}

// NotificationRepository stores notifications for their recipients.
type NotificationRepository interface {
	// InsertNotification is a no-op returning false when the id already exists.
	InsertNotification(ctx context.Context, n models.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string, userID string) error
}

// DirectoryRepository reads profile and post records owned by the surrounding app.
type DirectoryRepository interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	GetPost(ctx context.Context, postID string) (models.Post, error)
}
