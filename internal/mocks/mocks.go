package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoomIfAbsent(ctx context.Context, room models.Room) (models.Room, bool, error) {
	args := m.Called(ctx, room)
	var stored models.Room
	if val := args.Get(0); val != nil {
		stored = val.(models.Room)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetParticipant(ctx context.Context, roomID string, userID string) (models.Participant, error) {
	args := m.Called(ctx, roomID, userID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *RoomRepositoryMock) MarkRead(ctx context.Context, roomID string, userID string, at time.Time) error {
	args := m.Called(ctx, roomID, userID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, roomID string, senderID string, content string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, after, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) LatestCursor(ctx context.Context, roomID string) (*models.Cursor, error) {
	args := m.Called(ctx, roomID)
	var c *models.Cursor
	if val := args.Get(0); val != nil {
		c = val.(*models.Cursor)
	}
	return c, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) InsertNotification(ctx context.Context, n models.Notification) (bool, error) {
	args := m.Called(ctx, n)
	return args.Bool(0), args.Error(1)
}

func (m *NotificationRepositoryMock) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationRepositoryMock) MarkNotificationRead(ctx context.Context, notificationID string, userID string) error {
	args := m.Called(ctx, notificationID, userID)
	return args.Error(0)
}

type DirectoryRepositoryMock struct {
	mock.Mock
}

func (m *DirectoryRepositoryMock) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *DirectoryRepositoryMock) GetPost(ctx context.Context, postID string) (models.Post, error) {
	args := m.Called(ctx, postID)
	var p models.Post
	if val := args.Get(0); val != nil {
		p = val.(models.Post)
	}
	return p, args.Error(1)
}

var (
	_ repositories.RoomRepository         = (*RoomRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
	_ repositories.DirectoryRepository    = (*DirectoryRepositoryMock)(nil)
)
