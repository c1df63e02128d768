package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"messaging-core/internal/middleware"
	"messaging-core/internal/models"
	"messaging-core/internal/realtime"
	"messaging-core/internal/repositories"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type TokenValidator interface {
	Validate(token string) (string, error)
}

type RoomAuthorizer interface {
	Authorize(ctx context.Context, roomID, userID string) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, roomID string, from *models.Cursor) (*realtime.Subscription, error)
}

// RoomWebSocketHandler streams a room's committed messages to a participant.
type RoomWebSocketHandler struct {
	hub       *Hub
	rooms     RoomAuthorizer
	bus       Subscriber
	validator TokenValidator
	log       zerolog.Logger
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, rooms RoomAuthorizer, bus Subscriber, validator TokenValidator, log zerolog.Logger) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{
		hub:       hub,
		rooms:     rooms,
		bus:       bus,
		validator: validator,
		log:       log.With().Str("component", "ws").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, subscribes from ?after= and upgrades the connection.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	after, err := models.ParseCursor(c.Query("after"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	ctx, span := otel.Tracer("messaging-core/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.validator.Validate(token)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.rooms.Authorize(ctx, roomID, userID); err != nil {
		span.End()
		c.JSON(handshakeStatus(err), gin.H{"error": "not authorized for room"})
		return
	}

	sub, err := h.bus.Subscribe(ctx, roomID, after)
	if err != nil {
		span.End()
		c.JSON(handshakeStatus(err), gin.H{"error": "subscribe failed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		sub.Close()
		return
	}
	info := newConnInfo(c, roomID, userID, span.SpanContext().TraceID().String())
	span.End()

	h.hub.Add(conn, info)
	h.serve(conn, sub, info)
}

func (h *RoomWebSocketHandler) serve(conn *websocket.Conn, sub *realtime.Subscription, info ConnInfo) {
	ctx, cancel := context.WithCancel(context.Background())
	reason := make(chan string, 1)

	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishError(info, err)
				}
				reason <- err.Error()
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	closeReason := h.writeLoop(ctx, conn, sub)
	cancel()
	sub.Close()
	_ = conn.Close()
	select {
	case r := <-reason:
		if closeReason == "" {
			closeReason = r
		}
	default:
	}
	h.hub.Remove(conn, info.RoomID, closeReason)
}

// writeLoop forwards messages until the subscription or the connection ends and
// returns the close reason.
func (h *RoomWebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *realtime.Subscription) string {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, realtime.ErrSlowConsumer):
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteJSON(models.ChatEvent{Type: "slow_consumer", Cursor: tokenOf(sub.Cursor())})
				closeWith(conn, websocket.CloseTryAgainLater, "slow consumer")
				return "slow_consumer"
			case errors.Is(err, realtime.ErrBusClosed):
				closeWith(conn, websocket.CloseGoingAway, "server shutdown")
				return "bus_closed"
			default:
				return ""
			}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		event := models.ChatEvent{Type: "message", Message: &msg, Cursor: msg.Cursor().Token()}
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug().Err(err).Str("room_id", sub.RoomID()).Msg("websocket write failed")
			return err.Error()
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func tokenOf(c *models.Cursor) string {
	if c == nil {
		return ""
	}
	return c.Token()
}

func handshakeStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrRoomNotFound):
		return http.StatusNotFound
	case repositories.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
