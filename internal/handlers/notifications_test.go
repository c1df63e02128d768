package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/middleware"
	"messaging-core/internal/models"
	"messaging-core/internal/notifications"
	"messaging-core/internal/repositories/embedded"
)

func setupNotificationRouter(t *testing.T) (*embedded.Store, *notifications.Emitter, func(userID string) *gin.Engine) {
	t.Helper()
	store, err := embedded.Open("", zerolog.Nop())
	require.NoError(t, err)
	emitter := notifications.NewEmitter(store, store, nil, notifications.Config{Workers: 1}, zerolog.Nop())
	t.Cleanup(func() {
		_ = emitter.Close(context.Background())
		_ = store.Close()
	})

	handler := NewNotificationHandler(emitter)
	gin.SetMode(gin.TestMode)
	return store, emitter, func(userID string) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set(middleware.UserIDKey, userID)
			c.Next()
		})
		handler.Register(r)
		return r
	}
}

func listNotifications(t *testing.T, router *gin.Engine) []models.Notification {
	t.Helper()
	rec := do(router, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Notifications
}

func TestLikeEventProducesNotification(t *testing.T) {
	store, _, router := setupNotificationRouter(t)
	ctx := context.Background()
	require.NoError(t, store.PutProfile(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, store.PutPost(ctx, models.Post{ID: "p1", OwnerID: "alice", Content: "sunset"}))

	rec := do(router("bob"), http.MethodPost, "/events/likes", `{"post_id":"p1","post_owner_id":"alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got []models.Notification
	require.Eventually(t, func() bool {
		got = listNotifications(t, router("alice"))
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, models.NotificationLike, got[0].Type)
	require.Equal(t, "Bob liked your post: sunset", got[0].Message)

	rec = do(router("bob"), http.MethodPost, "/notifications/"+got[0].ID+"/read", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router("alice"), http.MethodPost, "/notifications/"+got[0].ID+"/read", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, listNotifications(t, router("alice"))[0].Read)
}

func TestEventRequiresPostFields(t *testing.T) {
	_, _, router := setupNotificationRouter(t)

	rec := do(router("bob"), http.MethodPost, "/events/comments", `{"post_id":"p1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
