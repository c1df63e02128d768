package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"messaging-core/internal/observability"
)

const wsEventsRoutingKey = "ws_events.rooms"

// Publisher publishes websocket lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Hub tracks open room connections and reports their lifecycle.
type Hub struct {
	publisher Publisher
	log       zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]ConnInfo
}

// NewHub creates an empty hub. publisher may be nil.
func NewHub(publisher Publisher, log zerolog.Logger) *Hub {
	return &Hub{
		publisher: publisher,
		log:       log.With().Str("component", "ws_hub").Logger(),
		rooms:     make(map[string]map[*websocket.Conn]ConnInfo),
	}
}

// Add registers a connection to a room.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	if _, ok := h.rooms[info.RoomID]; !ok {
		h.rooms[info.RoomID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[info.RoomID][conn] = info
	h.mu.Unlock()

	observability.IncWSActive("room")
	h.publish("ws_connect", info, "")
}

// Remove unregisters a connection. It reports whether the connection was registered.
func (h *Hub) Remove(conn *websocket.Conn, roomID, reason string) bool {
	h.mu.Lock()
	conns, ok := h.rooms[roomID]
	info, found := conns[conn]
	if found {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	if !ok || !found {
		return false
	}

	observability.DecWSActive("room")
	h.publish("ws_disconnect", info, reason)
	return true
}

// Count returns the number of open connections on a room.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll sends a going-away close frame to every connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

func (h *Hub) publishError(info ConnInfo, err error) {
	h.publish("ws_error", info, err.Error())
}

func (h *Hub) publish(event string, info ConnInfo, reason string) {
	observability.IncWSEvent("room", event)
	if h.publisher == nil {
		return
	}
	envelope := observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "room",
				"resource_id": info.RoomID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
	}
	if err := h.publisher.Publish(context.Background(), wsEventsRoutingKey, envelope); err != nil {
		h.log.Warn().Err(err).Str("event", event).Msg("ws event publish failed")
	}
}
