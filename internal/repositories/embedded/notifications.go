package embedded

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

func notificationKey(id string) []byte {
	return []byte("notif:" + id)
}

func notificationUserPrefix(userID string) []byte {
	return []byte("notif-user:" + userID + ":")
}

func notificationUserKey(n models.Notification) []byte {
	return []byte(fmt.Sprintf("notif-user:%s:%019d:%s", n.UserID, n.CreatedAt.UnixNano(), n.ID))
}

// InsertNotification writes the record and its recipient index unless the id exists.
func (s *Store) InsertNotification(_ context.Context, n models.Notification) (bool, error) {
	var created bool
	err := s.update(func(txn *badger.Txn) error {
		created = false
		_, err := txn.Get(notificationKey(n.ID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, notificationKey(n.ID), n); err != nil {
			return err
		}
		if err := txn.Set(notificationUserKey(n), []byte(n.ID)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, wrap("insert notification", err)
	}
	return created, nil
}

// ListNotifications walks the recipient index backwards, newest first.
func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	list := []models.Notification{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := notificationUserPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(list) == limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var n models.Notification
			if err := getJSON(txn, notificationKey(string(id)), &n); err != nil {
				return err
			}
			// A user id containing ':' can share this prefix.
			if n.UserID != userID {
				continue
			}
			list = append(list, n)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	return list, nil
}

// MarkNotificationRead flags a notification as read for its recipient only.
func (s *Store) MarkNotificationRead(_ context.Context, notificationID string, userID string) error {
	err := s.update(func(txn *badger.Txn) error {
		var n models.Notification
		err := getJSON(txn, notificationKey(notificationID), &n)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repositories.ErrNotificationNotFound
		}
		if err != nil {
			return err
		}
		if n.UserID != userID {
			return repositories.ErrNotificationNotFound
		}
		if n.Read {
			return nil
		}
		n.Read = true
		return setJSON(txn, notificationKey(notificationID), n)
	})
	return wrap("mark notification read", err)
}
