package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message while holding the room row lock, so created_at and id follow
// commit order within the room. Other rooms are not locked.
func (r *MessageRepo) AppendMessage(ctx context.Context, roomID string, senderID string, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, StoreError("begin append tx", err)
	}
	defer tx.Rollback()

	var lastMessageAt sql.NullTime
	err = tx.QueryRowxContext(ctx, `SELECT last_message_at FROM rooms WHERE id=$1 FOR UPDATE`, roomID).Scan(&lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, StoreError("lock room", err)
	}

	var member bool
	if err = tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM participants WHERE room_id=$1 AND user_id=$2)`, roomID, senderID); err != nil {
		return models.Message{}, StoreError("check participant", err)
	}
	if !member {
		return models.Message{}, ErrUnauthorized
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, sender_id, content, created_at)
        VALUES ($1, $2, $3, GREATEST(clock_timestamp(), $4))
        RETURNING id, room_id, sender_id, content, created_at`, roomID, senderID, content, lastMessageAt).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, StoreError("insert message", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE rooms SET last_message_at=$2 WHERE id=$1`, roomID, msg.CreatedAt); err != nil {
		return models.Message{}, StoreError("advance room", err)
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, StoreError("commit message", err)
	}
	return msg, nil
}

// ListMessages returns messages ordered by (created_at, id) strictly after the cursor.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error) {
	if err := r.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}

	msgs := []models.Message{}
	var err error
	if after == nil {
		err = r.db.SelectContext(ctx, &msgs, `SELECT id, room_id, sender_id, content, created_at FROM messages
            WHERE room_id=$1
            ORDER BY created_at ASC, id ASC
            LIMIT $2`, roomID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `SELECT id, room_id, sender_id, content, created_at FROM messages
            WHERE room_id=$1 AND (created_at, id) > ($2, $3)
            ORDER BY created_at ASC, id ASC
            LIMIT $4`, roomID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, StoreError("list messages", err)
	}
	return msgs, nil
}

// LatestCursor returns the newest message position in the room.
func (r *MessageRepo) LatestCursor(ctx context.Context, roomID string) (*models.Cursor, error) {
	if err := r.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}
	var cursor models.Cursor
	err := r.db.QueryRowxContext(ctx, `SELECT created_at, id FROM messages WHERE room_id=$1
        ORDER BY created_at DESC, id DESC LIMIT 1`, roomID).Scan(&cursor.CreatedAt, &cursor.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, StoreError("latest cursor", err)
	}
	return &cursor, nil
}

func (r *MessageRepo) ensureRoom(ctx context.Context, roomID string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1)`, roomID); err != nil {
		return StoreError("check room", err)
	}
	if !exists {
		return ErrRoomNotFound
	}
	return nil
}
