package realtime

import (
	"context"
	"sync"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
)

// Subscription is a pull-style stream of a room's committed messages.
type Subscription struct {
	bus    *Bus
	roomID string
	queue  chan models.Message
	done   chan struct{}

	mu        sync.Mutex
	err       error
	enqueued  *models.Cursor
	delivered *models.Cursor
}

func newSubscription(bus *Bus, roomID string, size int) *Subscription {
	return &Subscription{
		bus:    bus,
		roomID: roomID,
		queue:  make(chan models.Message, size),
		done:   make(chan struct{}),
	}
}

// RoomID is the room the subscription listens on.
func (s *Subscription) RoomID() string {
	return s.roomID
}

// Next blocks until the next message, the subscription ends, or ctx is done. A Next that
// dequeued a message before termination returns it; every later call returns Err.
func (s *Subscription) Next(ctx context.Context) (models.Message, error) {
	select {
	case <-s.done:
		return models.Message{}, s.Err()
	default:
	}

	select {
	case m := <-s.queue:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return models.Message{}, s.err
		}
		c := m.Cursor()
		s.delivered = &c
		return m, nil
	case <-s.done:
		return models.Message{}, s.Err()
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Cursor is the position of the last message returned by Next, or the subscribe position
// before the first one. Resubscribing from it misses nothing.
func (s *Subscription) Cursor() *models.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCursor(s.delivered)
}

// Err returns the reason the subscription ended, or nil while it is active.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes from the bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

// terminate ends the subscription with err. Only the first reason is kept.
func (s *Subscription) terminate(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = err
	close(s.done)
	observability.DecBusSubscribers()
	return true
}

// offer enqueues a live message without blocking. Messages at or before the last enqueued
// position are skipped. It returns false when the queue is full.
func (s *Subscription) offer(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return true
	}
	if s.enqueued != nil && !m.Cursor().After(*s.enqueued) {
		return true
	}
	select {
	case s.queue <- m:
		c := m.Cursor()
		s.enqueued = &c
		return true
	default:
		return false
	}
}

// push enqueues a backlog message, waiting for room in the queue. It is only used before the
// subscription joins the live set.
func (s *Subscription) push(ctx context.Context, m models.Message) bool {
	select {
	case s.queue <- m:
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
	s.mu.Lock()
	c := m.Cursor()
	s.enqueued = &c
	s.mu.Unlock()
	return true
}
