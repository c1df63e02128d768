package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/middleware"
	"messaging-core/internal/mocks"
	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
	"messaging-core/internal/repositories/embedded"
	"messaging-core/internal/services"
	"messaging-core/internal/telemetry"
)

func setupRoomRouter(handler *RoomHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	handler.Register(r)
	return r
}

func newEmbeddedRoomHandler(t *testing.T, audit *telemetry.AuditEmitter) *RoomHandler {
	t.Helper()
	store, err := embedded.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	resolver := services.NewRoomResolver(store, zerolog.Nop())
	messages := services.NewMessageStore(store, store, nil, services.DefaultMessageStoreConfig(), zerolog.Nop())
	return NewRoomHandler(resolver, messages, audit)
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func openRoom(t *testing.T, router *gin.Engine, peer string) string {
	t.Helper()
	rec := do(router, http.MethodPost, "/rooms", `{"peer_id":"`+peer+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.RoomID
}

func TestOpenRoomIsSymmetric(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)

	fromAlice := openRoom(t, setupRoomRouter(handler, "alice"), "bob")
	fromBob := openRoom(t, setupRoomRouter(handler, "bob"), "alice")
	require.Equal(t, fromAlice, fromBob)
	require.Equal(t, models.RoomIDFor("alice", "bob"), fromAlice)
}

func TestOpenRoomRejectsSelf(t *testing.T) {
	router := setupRoomRouter(newEmbeddedRoomHandler(t, nil), "alice")

	rec := do(router, http.MethodPost, "/rooms", `{"peer_id":"alice"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/rooms", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoomForbiddenForOutsider(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)
	roomID := openRoom(t, setupRoomRouter(handler, "alice"), "bob")

	rec := do(setupRoomRouter(handler, "alice"), http.MethodGet, "/rooms/"+roomID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(setupRoomRouter(handler, "mallory"), http.MethodGet, "/rooms/"+roomID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(setupRoomRouter(handler, "alice"), http.MethodGet, "/rooms/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostAndPageMessages(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)
	alice := setupRoomRouter(handler, "alice")
	roomID := openRoom(t, alice, "bob")

	for _, text := range []string{"one", "two", "three"} {
		rec := do(alice, http.MethodPost, "/rooms/"+roomID+"/messages", `{"content":"  `+text+`  "}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var msg models.Message
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
		assert.Equal(t, text, msg.Content)
		assert.Equal(t, "alice", msg.SenderID)
	}

	bob := setupRoomRouter(handler, "bob")
	var seen []string
	next := ""
	for i := 0; i < 5; i++ {
		rec := do(bob, http.MethodGet, "/rooms/"+roomID+"/messages?limit=2&after="+next, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var page struct {
			Messages []models.Message `json:"messages"`
			Next     string           `json:"next"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		if len(page.Messages) == 0 {
			require.Equal(t, next, page.Next)
			break
		}
		for _, m := range page.Messages {
			seen = append(seen, m.Content)
		}
		next = page.Next
	}
	require.Equal(t, []string{"one", "two", "three"}, seen)
}

func TestGetMessagesValidation(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)
	alice := setupRoomRouter(handler, "alice")
	roomID := openRoom(t, alice, "bob")

	rec := do(alice, http.MethodGet, "/rooms/"+roomID+"/messages?after=%25%25", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(alice, http.MethodGet, "/rooms/"+roomID+"/messages?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(setupRoomRouter(handler, "mallory"), http.MethodGet, "/rooms/"+roomID+"/messages", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessageRejectsBlankContent(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)
	alice := setupRoomRouter(handler, "alice")
	roomID := openRoom(t, alice, "bob")

	rec := do(alice, http.MethodPost, "/rooms/"+roomID+"/messages", `{"content":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageByOutsiderIsAudited(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit", "messaging-core", "test", zerolog.Nop())
	handler := newEmbeddedRoomHandler(t, audit)
	roomID := openRoom(t, setupRoomRouter(handler, "alice"), "bob")

	publisher.On("Publish", mock.Anything, "audit", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.RoomID == roomID && env.UserID != nil && *env.UserID == "mallory" && env.RequestID != ""
	})).Return(nil).Once()

	rec := do(setupRoomRouter(handler, "mallory"), http.MethodPost, "/rooms/"+roomID+"/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	publisher.AssertExpectations(t)

	rec = do(setupRoomRouter(handler, "bob"), http.MethodGet, "/rooms/"+roomID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestTransientStoreErrorMapsTo503(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	store := services.NewMessageStore(rooms, messages, nil, services.DefaultMessageStoreConfig(), zerolog.Nop())
	handler := NewRoomHandler(services.NewRoomResolver(rooms, zerolog.Nop()), store, nil)

	messages.On("AppendMessage", mock.Anything, "room-1", "alice", "hi").
		Return(models.Message{}, repositories.StoreError("append message", assert.AnError)).Once()

	rec := do(setupRoomRouter(handler, "alice"), http.MethodPost, "/rooms/room-1/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	messages.AssertExpectations(t)
}

func TestMarkRead(t *testing.T) {
	handler := newEmbeddedRoomHandler(t, nil)
	alice := setupRoomRouter(handler, "alice")
	roomID := openRoom(t, alice, "bob")

	rec := do(alice, http.MethodPost, "/rooms/"+roomID+"/read", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(setupRoomRouter(handler, "mallory"), http.MethodPost, "/rooms/"+roomID+"/read", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
