package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	NotificationLike    = "like"
	NotificationComment = "comment"
)

// Notification is a denormalized record addressed to a single recipient.
type Notification struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	Type           string         `db:"type" json:"type"`
	ReferenceID    string         `db:"reference_id" json:"reference_id"`
	Read           bool           `db:"read" json:"read"`
	Title          string         `db:"title" json:"title"`
	Message        string         `db:"message" json:"message"`
	SenderSnapshot SenderSnapshot `db:"sender_snapshot" json:"sender_snapshot"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// SenderSnapshot is the actor's display identity frozen when the notification was built.
type SenderSnapshot struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Value stores the snapshot as JSON.
func (s SenderSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan reads a JSON snapshot column.
func (s *SenderSnapshot) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = SenderSnapshot{}
		return nil
	default:
		return errors.New("unsupported sender_snapshot type")
	}
}

// Profile is the subset of a user profile the core reads.
type Profile struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	AvatarURL   string `db:"avatar_url" json:"avatar_url"`
}

// Post is the subset of a post the core reads.
type Post struct {
	ID      string `db:"id" json:"id"`
	OwnerID string `db:"owner_id" json:"owner_id"`
	Content string `db:"content" json:"content"`
}

// NotificationEvent is published after a notification is stored.
type NotificationEvent struct {
	EventType    string       `json:"event_type"`
	OccurredAt   time.Time    `json:"occurred_at"`
	Notification Notification `json:"notification"`
}
