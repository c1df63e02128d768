package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents a private conversation between exactly two users.
type Room struct {
	ID             string    `db:"id" json:"id"`
	ParticipantIDs []string  `db:"-" json:"participant_ids"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the room's two members.
func (r Room) HasParticipant(userID string) bool {
	for _, id := range r.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of the room.
func (r Room) Peer(userID string) string {
	for _, id := range r.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// Participant models per-user room state.
type Participant struct {
	RoomID     string     `db:"room_id" json:"room_id"`
	UserID     string     `db:"user_id" json:"user_id"`
	LastReadAt *time.Time `db:"last_read_at" json:"last_read_at"`
}

var roomNamespace = uuid.MustParse("6f1c2a8e-3b5d-4f7a-9c0e-2d4b6a8c0e1f")

// CanonicalPair orders two user ids so that either argument order yields the same pair.
func CanonicalPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// RoomIDFor derives the room id of an unordered user pair.
func RoomIDFor(userA, userB string) string {
	low, high := CanonicalPair(userA, userB)
	return uuid.NewSHA1(roomNamespace, []byte(low+"\x00"+high)).String()
}
