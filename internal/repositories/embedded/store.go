// Package embedded implements the repository interfaces on BadgerDB, for single-instance
// deployments and tests.
//
// Keys are laid out so that a prefix scan yields the room order:
//
//	room:{room_id}                         room record and head cursor
//	pair:{low}\x00{high}                   unique pair index -> room id
//	part:{room_id}:{user_id}               participant record
//	msg:{room_id}:{unix_nano 019}:{id 019} message
//	notif:{id}                             notification
//	notif-user:{user_id}:{unix_nano 019}:{id}
//	profile:{user_id}, post:{post_id}      directory records
package embedded

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"messaging-core/internal/repositories"
)

const (
	maxConflictRetries = 64
	sequenceBandwidth  = 1000
)

// Store is a Badger-backed implementation of every repository interface.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	log zerolog.Logger
	now func() time.Time
}

var (
	_ repositories.RoomRepository         = (*Store)(nil)
	_ repositories.MessageRepository      = (*Store)(nil)
	_ repositories.NotificationRepository = (*Store)(nil)
	_ repositories.DirectoryRepository    = (*Store)(nil)
)

// Open opens the database at path. An empty path opens an in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq:messages"), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &Store{db: db, seq: seq, log: log, now: time.Now}, nil
}

// Close releases the id lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn().Err(err).Msg("release message sequence")
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying when a concurrent transaction
// committed a conflicting write first.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		repositories.ErrRoomNotFound,
		repositories.ErrUnauthorized,
		repositories.ErrInvalidParticipants,
		repositories.ErrNotificationNotFound,
		repositories.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return repositories.StoreError(op, err)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
