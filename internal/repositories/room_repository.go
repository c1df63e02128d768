package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

type roomRow struct {
	ID        string    `db:"id"`
	UserLow   string    `db:"user_low"`
	UserHigh  string    `db:"user_high"`
	CreatedAt time.Time `db:"created_at"`
}

func (r roomRow) toModel() models.Room {
	return models.Room{
		ID:             r.ID,
		ParticipantIDs: []string{r.UserLow, r.UserHigh},
		CreatedAt:      r.CreatedAt,
	}
}

// CreateRoomIfAbsent inserts the room keyed by its canonical pair. A concurrent insert of the
// same pair blocks on the unique index and then falls through to the lookup.
func (r *RoomRepo) CreateRoomIfAbsent(ctx context.Context, room models.Room) (models.Room, bool, error) {
	if len(room.ParticipantIDs) != 2 {
		return models.Room{}, false, ErrInvalidParticipants
	}
	low, high := models.CanonicalPair(room.ParticipantIDs[0], room.ParticipantIDs[1])

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, false, StoreError("begin room tx", err)
	}
	defer tx.Rollback()

	var createdAt time.Time
	err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (id, user_low, user_high) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING RETURNING created_at`, room.ID, low, high).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, err := r.getRoomByPair(ctx, low, high)
		return existing, false, err
	}
	if err != nil {
		return models.Room{}, false, StoreError("insert room", err)
	}

	for _, userID := range []string{low, high} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO participants (room_id, user_id) VALUES ($1, $2)`, room.ID, userID); err != nil {
			return models.Room{}, false, StoreError("insert participant", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Room{}, false, StoreError("commit room", err)
	}
	return models.Room{ID: room.ID, ParticipantIDs: []string{low, high}, CreatedAt: createdAt}, true, nil
}

func (r *RoomRepo) getRoomByPair(ctx context.Context, low, high string) (models.Room, error) {
	var row roomRow
	err := r.db.GetContext(ctx, &row, `SELECT id, user_low, user_high, created_at FROM rooms WHERE user_low=$1 AND user_high=$2`, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, StoreError("get room by pair", err)
	}
	return row.toModel(), nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var row roomRow
	err := r.db.GetContext(ctx, &row, `SELECT id, user_low, user_high, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, StoreError("get room", err)
	}
	return row.toModel(), nil
}

// GetParticipant fetches the participant row of a user in a room.
func (r *RoomRepo) GetParticipant(ctx context.Context, roomID string, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT room_id, user_id, last_read_at FROM participants WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrUnauthorized
	}
	if err != nil {
		return models.Participant{}, StoreError("get participant", err)
	}
	return p, nil
}

// MarkRead advances last_read_at; it never moves backwards.
func (r *RoomRepo) MarkRead(ctx context.Context, roomID string, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE participants SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
        WHERE room_id=$1 AND user_id=$2`, roomID, userID, at)
	if err != nil {
		return StoreError("mark read", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return StoreError("mark read", err)
	}
	if count == 0 {
		return ErrUnauthorized
	}
	return nil
}
