// Package realtime fans committed room messages out to live subscribers.
//
// Each room with at least one subscriber has a dispatcher goroutine that tails the message
// store after a head cursor. A dispatcher wakes on Notify or on a poll tick, reads what was
// committed after its head, and offers each message to every live subscription without
// blocking. Delivery order is therefore the store's commit order regardless of the order in
// which appends signalled the bus.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
)

var (
	ErrSlowConsumer       = errors.New("slow consumer")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrBusClosed          = errors.New("bus closed")
)

// Reader is the committed view of the message log.
type Reader interface {
	ListMessages(ctx context.Context, roomID string, after *models.Cursor, limit int) ([]models.Message, error)
	LatestCursor(ctx context.Context, roomID string) (*models.Cursor, error)
}

// Config bounds the bus.
type Config struct {
	QueueSize    int
	PageSize     int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Bus maintains per-room dispatchers and their subscriptions.
type Bus struct {
	reader Reader
	cfg    Config
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	id     string
	signal chan struct{}
	stop   chan struct{}

	mu      sync.Mutex
	head    *models.Cursor
	live    map[*Subscription]struct{}
	pending int
}

// NewBus creates a bus reading committed messages from reader.
func NewBus(reader Reader, cfg Config, log zerolog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		reader: reader,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "realtime_bus").Logger(),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}
}

// Notify wakes the dispatcher of a room. Signals coalesce and never block.
func (b *Bus) Notify(roomID string) {
	b.mu.Lock()
	r := b.rooms[roomID]
	b.mu.Unlock()
	if r != nil {
		r.kick()
	}
}

// Subscribe registers a subscription on the room. Without a cursor delivery starts after the
// latest committed message; with one, the backlog after the cursor is replayed first.
func (b *Bus) Subscribe(ctx context.Context, roomID string, from *models.Cursor) (*Subscription, error) {
	r, err := b.acquire(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(b, roomID, b.cfg.QueueSize)
	observability.IncBusSubscribers()

	r.mu.Lock()
	if from == nil {
		sub.enqueued = copyCursor(r.head)
		sub.delivered = startOf(r.head)
		r.live[sub] = struct{}{}
		r.mu.Unlock()
		b.mu.Unlock()
		r.kick()
		return sub, nil
	}
	sub.enqueued = copyCursor(from)
	sub.delivered = copyCursor(from)
	r.pending++
	r.mu.Unlock()
	b.wg.Add(1)
	b.mu.Unlock()

	go b.replay(r, sub)
	return sub, nil
}

// startOf is the resume position of a subscriber that joins at head.
func startOf(head *models.Cursor) *models.Cursor {
	if head == nil {
		c := models.StartCursor()
		return &c
	}
	return copyCursor(head)
}

// Unsubscribe stops delivery to sub. It is idempotent; once it returns, Next yields no message.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.terminate(ErrSubscriptionClosed)

	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[sub.roomID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.live, sub)
	r.mu.Unlock()
	b.releaseLocked(r)
}

// Close terminates every subscription with ErrBusClosed and stops all dispatchers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	rooms := b.rooms
	b.rooms = make(map[string]*room)
	b.mu.Unlock()

	b.cancel()
	for _, r := range rooms {
		r.mu.Lock()
		for sub := range r.live {
			sub.terminate(ErrBusClosed)
		}
		r.live = map[*Subscription]struct{}{}
		r.mu.Unlock()
		close(r.stop)
	}
	b.wg.Wait()
}

// acquire returns the room with b.mu held, starting its dispatcher if needed. The head of a new
// room is seeded with one store read made outside the lock.
func (b *Bus) acquire(ctx context.Context, roomID string) (*room, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	if r, ok := b.rooms[roomID]; ok {
		return r, nil
	}
	b.mu.Unlock()

	head, err := b.reader.LatestCursor(ctx, roomID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	if r, ok := b.rooms[roomID]; ok {
		return r, nil
	}
	r := &room{
		id:     roomID,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		head:   head,
		live:   make(map[*Subscription]struct{}),
	}
	b.rooms[roomID] = r
	b.wg.Add(1)
	go b.dispatch(r)
	b.log.Debug().Str("room_id", roomID).Msg("room dispatcher started")
	return r, nil
}

// releaseLocked stops the room once nobody is subscribed or replaying. b.mu must be held.
func (b *Bus) releaseLocked(r *room) {
	r.mu.Lock()
	idle := len(r.live) == 0 && r.pending == 0
	r.mu.Unlock()
	if !idle || b.rooms[r.id] != r {
		return
	}
	delete(b.rooms, r.id)
	close(r.stop)
	b.log.Debug().Str("room_id", r.id).Msg("room dispatcher released")
}

func (b *Bus) release(r *room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(r)
}

func (b *Bus) dispatch(r *room) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-b.ctx.Done():
			return
		case <-r.signal:
		case <-ticker.C:
		}
		if b.drain(r) {
			b.release(r)
		}
	}
}

// drain delivers everything committed after the head. It reports whether a slow consumer was
// dropped, in which case the room may have become idle.
func (b *Bus) drain(r *room) bool {
	dropped := false
	for {
		r.mu.Lock()
		head := copyCursor(r.head)
		r.mu.Unlock()

		msgs, err := b.reader.ListMessages(b.ctx, r.id, head, b.cfg.PageSize)
		if err != nil {
			if b.ctx.Err() == nil {
				observability.IncBusDispatchError()
				b.log.Warn().Err(err).Str("room_id", r.id).Msg("dispatch read failed")
			}
			return dropped
		}
		if len(msgs) == 0 {
			return dropped
		}

		r.mu.Lock()
		for _, m := range msgs {
			for sub := range r.live {
				if sub.offer(m) {
					continue
				}
				delete(r.live, sub)
				sub.terminate(ErrSlowConsumer)
				observability.IncBusSlowConsumer()
				b.log.Warn().Str("room_id", r.id).Msg("slow consumer disconnected")
				dropped = true
			}
			c := m.Cursor()
			r.head = &c
		}
		r.mu.Unlock()
		observability.AddBusDispatched(len(msgs))

		if len(msgs) < b.cfg.PageSize {
			return dropped
		}
	}
}

// replay pages the backlog after the subscription's cursor with blocking pushes, then joins the
// live set once it has caught up with the dispatcher's head.
func (b *Bus) replay(r *room, sub *Subscription) {
	defer b.wg.Done()
	defer b.release(r)

	cursor := copyCursor(sub.enqueued)
	for {
		msgs, err := b.reader.ListMessages(b.ctx, r.id, cursor, b.cfg.PageSize)
		if err != nil {
			if b.ctx.Err() != nil {
				err = ErrBusClosed
			}
			sub.terminate(err)
			b.finishReplay(r)
			return
		}
		for _, m := range msgs {
			if !sub.push(b.ctx, m) {
				if b.ctx.Err() != nil {
					sub.terminate(ErrBusClosed)
				}
				b.finishReplay(r)
				return
			}
			c := m.Cursor()
			cursor = &c
		}
		if len(msgs) == b.cfg.PageSize {
			continue
		}

		r.mu.Lock()
		if b.ctx.Err() != nil {
			r.pending--
			r.mu.Unlock()
			sub.terminate(ErrBusClosed)
			return
		}
		if sub.isClosed() {
			r.pending--
			r.mu.Unlock()
			return
		}
		if r.head == nil || cursor == nil || !r.head.After(*cursor) {
			r.pending--
			r.live[sub] = struct{}{}
			r.mu.Unlock()
			r.kick()
			return
		}
		r.mu.Unlock()
	}
}

func (b *Bus) finishReplay(r *room) {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
}

func (r *room) kick() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func copyCursor(c *models.Cursor) *models.Cursor {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
