package embedded

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

func messagePrefix(roomID string) []byte {
	return []byte("msg:" + roomID + ":")
}

// messageKey zero-pads both components so lexicographic key order equals (created_at, id) order.
func messageKey(roomID string, c models.Cursor) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%019d", roomID, c.CreatedAt.UnixNano(), c.ID))
}

// AppendMessage commits a message. The transaction reads and rewrites the room head, so
// concurrent appends to one room conflict and retry in order while other rooms proceed.
func (s *Store) AppendMessage(_ context.Context, roomID string, senderID string, content string) (models.Message, error) {
	var msg models.Message
	err := s.update(func(txn *badger.Txn) error {
		rec, err := getRoomRecord(txn, roomID)
		if err != nil {
			return err
		}
		if !rec.toModel().HasParticipant(senderID) {
			return repositories.ErrUnauthorized
		}

		createdAt := s.now().UTC()
		if rec.Head != nil && createdAt.Before(rec.Head.CreatedAt) {
			createdAt = rec.Head.CreatedAt
		}
		// The id is leased after the head was read, so it is larger than the head's id.
		next, err := s.seq.Next()
		if err != nil {
			return err
		}
		msg = models.Message{
			ID:        int64(next) + 1,
			RoomID:    roomID,
			SenderID:  senderID,
			Content:   content,
			CreatedAt: createdAt,
		}
		cursor := msg.Cursor()
		if err := setJSON(txn, messageKey(roomID, cursor), msg); err != nil {
			return err
		}
		rec.Head = &cursor
		return setJSON(txn, roomKey(roomID), rec)
	})
	if err != nil {
		return models.Message{}, wrap("append message", err)
	}
	return msg, nil
}

// ListMessages scans the room prefix from the cursor.
func (s *Store) ListMessages(_ context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getRoomRecord(txn, roomID); err != nil {
			return err
		}
		prefix := messagePrefix(roomID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seek := prefix
		if after != nil {
			seek = messageKey(roomID, *after)
		}
		it.Seek(seek)
		if after != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seek) {
			it.Next()
		}
		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			var m models.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list messages", err)
	}
	return msgs, nil
}

// LatestCursor returns the room head.
func (s *Store) LatestCursor(_ context.Context, roomID string) (*models.Cursor, error) {
	var head *models.Cursor
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRoomRecord(txn, roomID)
		if err != nil {
			return err
		}
		head = rec.Head
		return nil
	})
	if err != nil {
		return nil, wrap("latest cursor", err)
	}
	return head, nil
}
