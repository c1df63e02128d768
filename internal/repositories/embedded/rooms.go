package embedded

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

type roomRecord struct {
	ID           string         `json:"id"`
	Participants []string       `json:"participants"`
	CreatedAt    time.Time      `json:"created_at"`
	Head         *models.Cursor `json:"head,omitempty"`
}

func (r roomRecord) toModel() models.Room {
	return models.Room{ID: r.ID, ParticipantIDs: append([]string(nil), r.Participants...), CreatedAt: r.CreatedAt}
}

func roomKey(roomID string) []byte {
	return []byte("room:" + roomID)
}

func pairKey(low, high string) []byte {
	return []byte("pair:" + low + "\x00" + high)
}

func participantKey(roomID, userID string) []byte {
	return []byte("part:" + roomID + ":" + userID)
}

func getRoomRecord(txn *badger.Txn, roomID string) (roomRecord, error) {
	var rec roomRecord
	err := getJSON(txn, roomKey(roomID), &rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return roomRecord{}, repositories.ErrRoomNotFound
	}
	return rec, err
}

// CreateRoomIfAbsent inserts the room under its pair index. Concurrent creators conflict on the
// pair key; the retried transaction then observes the committed room.
func (s *Store) CreateRoomIfAbsent(_ context.Context, room models.Room) (models.Room, bool, error) {
	if len(room.ParticipantIDs) != 2 {
		return models.Room{}, false, repositories.ErrInvalidParticipants
	}
	low, high := models.CanonicalPair(room.ParticipantIDs[0], room.ParticipantIDs[1])

	var (
		stored  models.Room
		created bool
	)
	err := s.update(func(txn *badger.Txn) error {
		created = false
		item, err := txn.Get(pairKey(low, high))
		if err == nil {
			var existingID []byte
			if existingID, err = item.ValueCopy(nil); err != nil {
				return err
			}
			rec, err := getRoomRecord(txn, string(existingID))
			if err != nil {
				return err
			}
			stored = rec.toModel()
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec := roomRecord{ID: room.ID, Participants: []string{low, high}, CreatedAt: s.now().UTC()}
		if err := setJSON(txn, roomKey(rec.ID), rec); err != nil {
			return err
		}
		if err := txn.Set(pairKey(low, high), []byte(rec.ID)); err != nil {
			return err
		}
		for _, userID := range rec.Participants {
			if err := setJSON(txn, participantKey(rec.ID, userID), models.Participant{RoomID: rec.ID, UserID: userID}); err != nil {
				return err
			}
		}
		stored = rec.toModel()
		created = true
		return nil
	})
	if err != nil {
		return models.Room{}, false, wrap("create room", err)
	}
	return stored, created, nil
}

// GetRoom fetches a room by id.
func (s *Store) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	var rec roomRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRoomRecord(txn, roomID)
		return err
	})
	if err != nil {
		return models.Room{}, wrap("get room", err)
	}
	return rec.toModel(), nil
}

// GetParticipant fetches a participant record.
func (s *Store) GetParticipant(_ context.Context, roomID string, userID string) (models.Participant, error) {
	var p models.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, participantKey(roomID, userID), &p)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repositories.ErrUnauthorized
		}
		return err
	})
	if err != nil {
		return models.Participant{}, wrap("get participant", err)
	}
	return p, nil
}

// MarkRead advances last_read_at; it never moves backwards.
func (s *Store) MarkRead(_ context.Context, roomID string, userID string, at time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		var p models.Participant
		err := getJSON(txn, participantKey(roomID, userID), &p)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repositories.ErrUnauthorized
		}
		if err != nil {
			return err
		}
		if p.LastReadAt != nil && !at.After(*p.LastReadAt) {
			return nil
		}
		at := at.UTC()
		p.LastReadAt = &at
		return setJSON(txn, participantKey(roomID, userID), p)
	})
	return wrap("mark read", err)
}
