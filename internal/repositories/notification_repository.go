package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

// NotificationRepo is a sqlx-backed NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// InsertNotification writes the notification unless its id is already present.
func (r *NotificationRepo) InsertNotification(ctx context.Context, n models.Notification) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `INSERT INTO notifications
        (id, user_id, type, reference_id, read, title, message, sender_snapshot, created_at)
        VALUES (:id, :user_id, :type, :reference_id, :read, :title, :message, :sender_snapshot, :created_at)
        ON CONFLICT (id) DO NOTHING`, n)
	if err != nil {
		return false, StoreError("insert notification", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, StoreError("insert notification", err)
	}
	return count == 1, nil
}

// ListNotifications returns the newest notifications of a recipient first.
func (r *NotificationRepo) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	list := []models.Notification{}
	err := r.db.SelectContext(ctx, &list, `SELECT id, user_id, type, reference_id, read, title, message, sender_snapshot, created_at
        FROM notifications WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, StoreError("list notifications", err)
	}
	return list, nil
}

// MarkNotificationRead flags a notification as read for its recipient only.
func (r *NotificationRepo) MarkNotificationRead(ctx context.Context, notificationID string, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return StoreError("mark notification read", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return StoreError("mark notification read", err)
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DirectoryRepo reads the profiles and posts tables of the surrounding app.
type DirectoryRepo struct {
	db *sqlx.DB
}

// NewDirectoryRepo constructs a DirectoryRepo.
func NewDirectoryRepo(db *sqlx.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

// GetProfile fetches the display attributes of a user.
func (r *DirectoryRepo) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, COALESCE(display_name, '') AS display_name, COALESCE(avatar_url, '') AS avatar_url
        FROM profiles WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, StoreError("get profile", err)
	}
	return p, nil
}

// GetPost fetches a post's owner and content.
func (r *DirectoryRepo) GetPost(ctx context.Context, postID string) (models.Post, error) {
	var p models.Post
	err := r.db.GetContext(ctx, &p, `SELECT id, owner_id, COALESCE(content, '') AS content FROM posts WHERE id=$1`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, StoreError("get post", err)
	}
	return p, nil
}
