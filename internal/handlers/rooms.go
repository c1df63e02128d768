package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-core/internal/middleware"
	"messaging-core/internal/models"
	"messaging-core/internal/repositories"
	"messaging-core/internal/services"
	"messaging-core/internal/telemetry"
)

// RoomHandler exposes rooms and their messages.
type RoomHandler struct {
	resolver *services.RoomResolver
	store    *services.MessageStore
	audit    *telemetry.AuditEmitter
}

// NewRoomHandler constructs a RoomHandler. audit may be nil.
func NewRoomHandler(resolver *services.RoomResolver, store *services.MessageStore, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{resolver: resolver, store: store, audit: audit}
}

// Register mounts the room routes on an authenticated group.
func (h *RoomHandler) Register(r gin.IRouter) {
	r.POST("/rooms", h.OpenRoom)
	r.GET("/rooms/:room_id", h.GetRoom)
	r.GET("/rooms/:room_id/messages", h.GetMessages)
	r.POST("/rooms/:room_id/messages", h.PostMessage)
	r.POST("/rooms/:room_id/read", h.MarkRead)
}

// OpenRoom returns the room shared with a peer, creating it on first use.
func (h *RoomHandler) OpenRoom(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID, err := h.resolver.GetOrCreateRoom(c.Request.Context(), c.GetString(middleware.UserIDKey), req.PeerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// GetRoom returns a room the caller belongs to.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.resolver.Room(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !room.HasParticipant(c.GetString(middleware.UserIDKey)) {
		respondError(c, repositories.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetMessages pages through a room's messages in commit order.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	after, err := models.ParseCursor(c.Query("after"))
	if err != nil {
		respondError(c, err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	if err := h.store.Authorize(c.Request.Context(), roomID, c.GetString(middleware.UserIDKey)); err != nil {
		respondError(c, err)
		return
	}
	msgs, err := h.store.GetMessages(c.Request.Context(), roomID, after, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	next := c.Query("after")
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].Cursor().Token()
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next": next})
}

// PostMessage appends a message to the room.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Param("room_id")
	msg, err := h.store.Append(c.Request.Context(), roomID, c.GetString(middleware.UserIDKey), req.Content)
	if err != nil {
		if errors.Is(err, repositories.ErrUnauthorized) {
			h.audit.Emit(c.Request.Context(), telemetry.AuditEvent{
				Level:     "WARN",
				Text:      "append rejected: sender is not a participant",
				RequestID: requestIDFromContext(c),
				UserID:    userIDFromContext(c),
				RoomID:    roomID,
			})
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead records that the caller has read the room up to now.
func (h *RoomHandler) MarkRead(c *gin.Context) {
	err := h.store.MarkRead(c.Request.Context(), c.Param("room_id"), c.GetString(middleware.UserIDKey), time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
