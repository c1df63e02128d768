package embedded

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

// PutProfile upserts a directory profile. The embedded backend has no surrounding app to own
// these records, so they are seeded through here.
func (s *Store) PutProfile(_ context.Context, p models.Profile) error {
	return wrap("put profile", s.update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte("profile:"+p.ID), p)
	}))
}

// PutPost upserts a directory post.
func (s *Store) PutPost(_ context.Context, p models.Post) error {
	return wrap("put post", s.update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte("post:"+p.ID), p)
	}))
}

func (s *Store) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	if err := s.get("get profile", []byte("profile:"+userID), &p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetPost(_ context.Context, postID string) (models.Post, error) {
	var p models.Post
	if err := s.get("get post", []byte("post:"+postID), &p); err != nil {
		return models.Post{}, err
	}
	return p, nil
}

func (s *Store) get(op string, key []byte, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, key, out)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return repositories.ErrNotFound
		}
		return err
	})
	return wrap(op, err)
}
