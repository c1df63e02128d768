package repositories

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrInvalidContent       = errors.New("invalid content")
	ErrUnauthorized         = errors.New("sender is not a room participant")
	ErrRoomNotFound         = errors.New("room not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotFound             = errors.New("record not found")

	// ErrTransientStore marks storage failures the caller may retry.
	ErrTransientStore = errors.New("transient store error")
)

// StoreError wraps an underlying I/O failure so that it matches ErrTransientStore.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}
