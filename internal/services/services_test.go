package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
	"messaging-core/internal/repositories/embedded"
)

func TestGetOrCreateRoomRejectsInvalidPairs(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewRoomResolver(rooms, zerolog.Nop())

	for _, pair := range [][2]string{{"alice", "alice"}, {"", "bob"}, {"alice", ""}} {
		_, err := resolver.GetOrCreateRoom(context.Background(), pair[0], pair[1])
		require.ErrorIs(t, err, repositories.ErrInvalidParticipants)
	}
	rooms.AssertNotCalled(t, "CreateRoomIfAbsent", mock.Anything, mock.Anything)
}

func TestGetOrCreateRoomUsesCanonicalPair(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewRoomResolver(rooms, zerolog.Nop())
	want := models.RoomIDFor("alice", "bob")

	rooms.On("CreateRoomIfAbsent", mock.Anything, models.Room{ID: want, ParticipantIDs: []string{"alice", "bob"}}).
		Return(models.Room{ID: want, ParticipantIDs: []string{"alice", "bob"}}, false, nil).Twice()

	id, err := resolver.GetOrCreateRoom(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, want, id)
	id, err = resolver.GetOrCreateRoom(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, want, id)
	rooms.AssertExpectations(t)
}

func TestGetOrCreateRoomPropagatesTransient(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewRoomResolver(rooms, zerolog.Nop())
	rooms.On("CreateRoomIfAbsent", mock.Anything, mock.Anything).Return(nil, false, repositories.StoreError("create room", assert.AnError)).Once()

	_, err := resolver.GetOrCreateRoom(context.Background(), "alice", "bob")
	require.True(t, repositories.IsTransient(err))
}

func TestGetOrCreateRoomConcurrentCallersAgree(t *testing.T) {
	store, err := embedded.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	resolver := NewRoomResolver(store, zerolog.Nop())

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			id, err := resolver.GetOrCreateRoom(context.Background(), a, b)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	room, err := resolver.Room(context.Background(), ids[0])
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, room.ParticipantIDs)
}

func TestAppendValidatesContent(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	notifier := &mocks.NotifierMock{}
	store := NewMessageStore(rooms, messages, notifier, MessageStoreConfig{MaxContentLength: 10}, zerolog.Nop())
	rooms.On("GetRoom", mock.Anything, "r1").Return(models.Room{ID: "r1", ParticipantIDs: []string{"alice", "bob"}}, nil).Twice()

	_, err := store.Append(context.Background(), "r1", "alice", "   \n\t")
	require.ErrorIs(t, err, repositories.ErrInvalidContent)
	_, err = store.Append(context.Background(), "r1", "alice", strings.Repeat("x", 11))
	require.ErrorIs(t, err, repositories.ErrInvalidContent)

	messages.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Empty(t, notifier.Signalled())
	rooms.AssertExpectations(t)
}

func TestAppendReportsMembershipBeforeContent(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	store := NewMessageStore(rooms, messages, &mocks.NotifierMock{}, MessageStoreConfig{}, zerolog.Nop())
	rooms.On("GetRoom", mock.Anything, "r1").Return(models.Room{ID: "r1", ParticipantIDs: []string{"alice", "bob"}}, nil).Once()
	rooms.On("GetRoom", mock.Anything, "gone").Return(nil, repositories.ErrRoomNotFound).Once()

	_, err := store.Append(context.Background(), "r1", "mallory", "  ")
	require.ErrorIs(t, err, repositories.ErrUnauthorized)
	_, err = store.Append(context.Background(), "gone", "alice", "")
	require.ErrorIs(t, err, repositories.ErrRoomNotFound)

	messages.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	rooms.AssertExpectations(t)
}

func TestAppendTrimsAndSignals(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	notifier := &mocks.NotifierMock{}
	store := NewMessageStore(new(mocks.RoomRepositoryMock), messages, notifier, MessageStoreConfig{}, zerolog.Nop())

	messages.On("AppendMessage", mock.Anything, "r1", "alice", "hi").Return(models.Message{ID: 7, RoomID: "r1", SenderID: "alice", Content: "hi"}, nil).Once()

	msg, err := store.Append(context.Background(), "r1", "alice", "  hi  ")
	require.NoError(t, err)
	require.Equal(t, int64(7), msg.ID)
	require.Equal(t, []string{"r1"}, notifier.Signalled())
	messages.AssertExpectations(t)
}

func TestAppendErrorDoesNotSignal(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	notifier := &mocks.NotifierMock{}
	store := NewMessageStore(new(mocks.RoomRepositoryMock), messages, notifier, MessageStoreConfig{}, zerolog.Nop())

	messages.On("AppendMessage", mock.Anything, "r1", "mallory", "hi").Return(nil, repositories.ErrUnauthorized).Once()

	_, err := store.Append(context.Background(), "r1", "mallory", "hi")
	require.ErrorIs(t, err, repositories.ErrUnauthorized)
	require.Empty(t, notifier.Signalled())
}

func TestGetMessagesClampsLimit(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	store := NewMessageStore(new(mocks.RoomRepositoryMock), messages, nil, MessageStoreConfig{DefaultPageSize: 10, MaxPageSize: 20}, zerolog.Nop())
	after := &models.Cursor{CreatedAt: time.Unix(100, 0).UTC(), ID: 3}

	messages.On("ListMessages", mock.Anything, "r1", (*models.Cursor)(nil), 10).Return([]models.Message{}, nil).Once()
	messages.On("ListMessages", mock.Anything, "r1", after, 20).Return([]models.Message{{ID: 4}}, nil).Once()

	_, err := store.GetMessages(context.Background(), "r1", nil, 0)
	require.NoError(t, err)
	msgs, err := store.GetMessages(context.Background(), "r1", after, 500)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	messages.AssertExpectations(t)
}

func TestMarkReadRequiresParticipant(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	store := NewMessageStore(rooms, new(mocks.MessageRepositoryMock), nil, MessageStoreConfig{}, zerolog.Nop())
	room := models.Room{ID: "r1", ParticipantIDs: []string{"alice", "bob"}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rooms.On("GetRoom", mock.Anything, "r1").Return(room, nil).Twice()
	rooms.On("MarkRead", mock.Anything, "r1", "alice", at).Return(nil).Once()

	require.NoError(t, store.MarkRead(context.Background(), "r1", "alice", at))
	require.ErrorIs(t, store.MarkRead(context.Background(), "r1", "mallory", at), repositories.ErrUnauthorized)
	rooms.AssertExpectations(t)
}

func TestMessageStoreOnEmbeddedBackend(t *testing.T) {
	backend, err := embedded.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	resolver := NewRoomResolver(backend, zerolog.Nop())
	store := NewMessageStore(backend, backend, nil, MessageStoreConfig{DefaultPageSize: 2}, zerolog.Nop())

	roomID, err := resolver.GetOrCreateRoom(ctx, "alice", "bob")
	require.NoError(t, err)

	m1, err := store.Append(ctx, roomID, "alice", "m1")
	require.NoError(t, err)
	m2, err := store.Append(ctx, roomID, "bob", "m2")
	require.NoError(t, err)
	m3, err := store.Append(ctx, roomID, "alice", "m3")
	require.NoError(t, err)

	_, err = store.Append(ctx, roomID, "stranger", "hi")
	require.ErrorIs(t, err, repositories.ErrUnauthorized)

	first, err := store.GetMessages(ctx, roomID, nil, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{m1.ID, m2.ID}, []int64{first[0].ID, first[1].ID})

	c := m2.Cursor()
	rest, err := store.GetMessages(ctx, roomID, &c, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, m3.ID, rest[0].ID)

	_, err = store.GetMessages(ctx, "no-such-room", nil, 10)
	require.ErrorIs(t, err, repositories.ErrRoomNotFound)
}
