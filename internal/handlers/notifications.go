package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-core/internal/middleware"
	"messaging-core/internal/notifications"
)

// NotificationHandler accepts social events and serves a recipient's notifications.
type NotificationHandler struct {
	emitter *notifications.Emitter
}

func NewNotificationHandler(emitter *notifications.Emitter) *NotificationHandler {
	return &NotificationHandler{emitter: emitter}
}

func (h *NotificationHandler) Register(r gin.IRouter) {
	r.POST("/events/likes", h.Like)
	r.POST("/events/comments", h.Comment)
	r.GET("/notifications", h.List)
	r.POST("/notifications/:notification_id/read", h.MarkRead)
}

type postEvent struct {
	PostID      string `json:"post_id" binding:"required"`
	PostOwnerID string `json:"post_owner_id" binding:"required"`
	Content     string `json:"content"`
}

// Like queues a like notification; the caller is the actor.
func (h *NotificationHandler) Like(c *gin.Context) {
	var req postEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.emitter.OnLike(c.Request.Context(), req.PostID, req.PostOwnerID, c.GetString(middleware.UserIDKey))
	c.Status(http.StatusAccepted)
}

// Comment queues a comment notification.
func (h *NotificationHandler) Comment(c *gin.Context) {
	var req postEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.emitter.OnComment(c.Request.Context(), req.PostID, req.PostOwnerID, c.GetString(middleware.UserIDKey), req.Content)
	c.Status(http.StatusAccepted)
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.emitter.List(c.Request.Context(), c.GetString(middleware.UserIDKey), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.emitter.MarkRead(c.Request.Context(), c.Param("notification_id"), c.GetString(middleware.UserIDKey)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
