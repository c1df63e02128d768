package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"messaging-core/internal/observability"
)

const (
	DefaultRelayChannel = "messaging:rooms"
	relayPublishTimeout = 2 * time.Second
	relayBacklog        = 1024
)

// Signaler wakes local room dispatchers.
type Signaler interface {
	Notify(roomID string)
}

type relaySignal struct {
	RoomID string `json:"room_id"`
	Origin string `json:"origin"`
}

// RedisRelay carries commit signals between instances over Redis pub/sub. Only the room id
// travels; every instance reads the message itself from the shared store. Publishing happens
// off the append path; a signal that cannot be queued is left to the remote poll tick.
type RedisRelay struct {
	local   Signaler
	client  *redis.Client
	channel string
	origin  string
	pending chan string
	log     zerolog.Logger
}

func NewRedisRelay(local Signaler, client *redis.Client, channel string, log zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		local:   local,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		pending: make(chan string, relayBacklog),
		log:     log.With().Str("component", "redis_relay").Logger(),
	}
}

// Notify wakes the local dispatcher and queues the signal for other instances. It never
// waits on Redis.
func (r *RedisRelay) Notify(roomID string) {
	r.local.Notify(roomID)

	select {
	case r.pending <- roomID:
	default:
		observability.IncRelayError("backlog_full")
	}
}

// publish drains queued signals until ctx is done.
func (r *RedisRelay) publish(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case roomID := <-r.pending:
			payload, err := json.Marshal(relaySignal{RoomID: roomID, Origin: r.origin})
			if err != nil {
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err = r.client.Publish(pubCtx, r.channel, payload).Err()
			cancel()
			if err != nil {
				observability.IncRelayError("publish")
				r.log.Warn().Err(err).Str("room_id", roomID).Msg("relay publish failed")
			}
		}
	}
}

// Run publishes local signals and forwards signals from other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	go r.publish(ctx)

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var sig relaySignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		observability.IncRelayError("decode")
		r.log.Warn().Err(err).Msg("relay signal decode failed")
		return
	}
	if sig.Origin == r.origin || sig.RoomID == "" {
		return
	}
	r.local.Notify(sig.RoomID)
}
