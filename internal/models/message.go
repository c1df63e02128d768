package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message represents a committed chat message.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	RoomID    string    `db:"room_id" json:"room_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Cursor returns the position of the message in its room.
func (m Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Cursor is a position in a room's (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

var ErrInvalidCursor = errors.New("invalid cursor")

// StartCursor sorts before every message a room can hold.
func StartCursor() Cursor {
	return Cursor{CreatedAt: time.Unix(0, 0).UTC()}
}

// After reports whether c sorts strictly after other.
func (c Cursor) After(other Cursor) bool {
	if c.CreatedAt.Equal(other.CreatedAt) {
		return c.ID > other.ID
	}
	return c.CreatedAt.After(other.CreatedAt)
}

// Token encodes the cursor as an opaque URL-safe string.
func (c Cursor) Token() string {
	raw := fmt.Sprintf("%d.%d", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Cursor.Token. An empty token yields nil.
func ParseCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	msgID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: msgID}, nil
}

// ChatEvent is written to websocket subscribers.
type ChatEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Cursor  string   `json:"cursor,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}
