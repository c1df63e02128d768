package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NotifierMock records room signals.
type NotifierMock struct {
	mu    sync.Mutex
	Rooms []string
}

func (m *NotifierMock) Notify(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rooms = append(m.Rooms, roomID)
}

func (m *NotifierMock) Signalled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Rooms...)
}
