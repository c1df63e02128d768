// Package notifications turns like and comment events into notification records for post
// owners. Delivery is best effort: events are processed by a bounded worker pool and failures
// are logged and counted, never returned to the caller.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/repositories"
)

const (
	likePreviewLimit    = 50
	commentPreviewLimit = 30
	commentTextLimit    = 30

	CreatedRoutingKey = "notification.created"
)

var (
	// ErrDeliveryFailure wraps every error that prevented a notification from being written.
	ErrDeliveryFailure = errors.New("notification delivery failure")
	// ErrOwnerMismatch means the event named a recipient who does not own the post.
	ErrOwnerMismatch = errors.New("post owner mismatch")
)

var likeNamespace = uuid.MustParse("0b6e3f52-8d1a-4c7e-a2f9-5e4d3c2b1a09")

// EventPublisher announces stored notifications.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	PageSize   int
	PageMax    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.PageMax <= 0 {
		c.PageMax = 200
	}
	if c.PageMax < c.PageSize {
		c.PageMax = c.PageSize
	}
	return c
}

type event struct {
	ctx     context.Context
	kind    string
	postID  string
	ownerID string
	actorID string
	comment string
}

// Emitter writes like/comment notifications asynchronously.
type Emitter struct {
	notifications repositories.NotificationRepository
	directory     repositories.DirectoryRepository
	events        EventPublisher
	cfg           Config
	log           zerolog.Logger
	now           func() time.Time

	queue chan event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewEmitter starts the worker pool. events may be nil.
func NewEmitter(notifications repositories.NotificationRepository, directory repositories.DirectoryRepository, events EventPublisher, cfg Config, log zerolog.Logger) *Emitter {
	cfg = cfg.withDefaults()
	e := &Emitter{
		notifications: notifications,
		directory:     directory,
		events:        events,
		cfg:           cfg,
		log:           log.With().Str("component", "notification_emitter").Logger(),
		now:           time.Now,
		queue:         make(chan event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

// OnLike notifies the post owner that actorID liked the post.
func (e *Emitter) OnLike(ctx context.Context, postID, postOwnerID, actorID string) {
	e.enqueue(ctx, event{kind: models.NotificationLike, postID: postID, ownerID: postOwnerID, actorID: actorID})
}

// OnComment notifies the post owner that actorID commented on the post.
func (e *Emitter) OnComment(ctx context.Context, postID, postOwnerID, actorID, commentContent string) {
	e.enqueue(ctx, event{kind: models.NotificationComment, postID: postID, ownerID: postOwnerID, actorID: actorID, comment: commentContent})
}

func (e *Emitter) enqueue(ctx context.Context, ev event) {
	if ev.actorID == ev.ownerID || ev.actorID == "" || ev.ownerID == "" {
		return
	}
	ev.ctx = context.WithoutCancel(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(ev, "emitter closed")
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.drop(ev, "queue full")
	}
}

func (e *Emitter) drop(ev event, reason string) {
	observability.IncNotification(ev.kind, "dropped")
	e.log.Warn().
		Str("type", ev.kind).
		Str("post_id", ev.postID).
		Str("reason", reason).
		Msg("notification event dropped")
}

// Close stops accepting events and waits for queued ones until ctx is done.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) work() {
	defer e.wg.Done()
	for ev := range e.queue {
		ctx, cancel := context.WithTimeout(ev.ctx, e.cfg.JobTimeout)
		err := e.deliver(ctx, ev)
		cancel()
		if err != nil {
			observability.IncNotification(ev.kind, "failed")
			e.log.Error().Err(err).
				Str("type", ev.kind).
				Str("post_id", ev.postID).
				Str("recipient_id", ev.ownerID).
				Msg("notification not delivered")
		}
	}
}

// deliver builds and stores one notification.
func (e *Emitter) deliver(ctx context.Context, ev event) error {
	post, err := e.directory.GetPost(ctx, ev.postID)
	if err != nil {
		return fmt.Errorf("%w: post %s: %w", ErrDeliveryFailure, ev.postID, err)
	}
	// The caller names the recipient; only the directory knows who owns the post.
	if post.OwnerID != ev.ownerID {
		return fmt.Errorf("%w: post %s: %w", ErrDeliveryFailure, ev.postID, ErrOwnerMismatch)
	}
	actor, err := e.directory.GetProfile(ctx, ev.actorID)
	if err != nil {
		return fmt.Errorf("%w: profile %s: %w", ErrDeliveryFailure, ev.actorID, err)
	}

	n := e.build(ev, post, actor)
	created, err := e.notifications.InsertNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrDeliveryFailure, err)
	}
	if !created {
		observability.IncNotification(ev.kind, "duplicate")
		return nil
	}
	observability.IncNotification(ev.kind, "created")

	if e.events != nil {
		evt := models.NotificationEvent{EventType: CreatedRoutingKey, OccurredAt: n.CreatedAt, Notification: n}
		if err := e.events.Publish(ctx, CreatedRoutingKey, evt); err != nil {
			e.log.Warn().Err(err).Str("notification_id", n.ID).Msg("notification event publish failed")
		}
	}
	return nil
}

func (e *Emitter) build(ev event, post models.Post, actor models.Profile) models.Notification {
	snapshot := models.SenderSnapshot{
		UserID:      ev.actorID,
		DisplayName: actor.DisplayName,
		AvatarURL:   actor.AvatarURL,
	}
	name := snapshot.DisplayName
	if name == "" {
		name = "Someone"
	}

	n := models.Notification{
		UserID:         post.OwnerID,
		Type:           ev.kind,
		ReferenceID:    ev.postID,
		SenderSnapshot: snapshot,
		CreatedAt:      e.now().UTC(),
	}
	switch ev.kind {
	case models.NotificationLike:
		n.ID = LikeNotificationID(ev.postID, ev.actorID)
		n.Title = "New like"
		n.Message = fmt.Sprintf("%s liked your post: %s", name, Truncate(post.Content, likePreviewLimit))
	default:
		n.ID = uuid.NewString()
		n.Title = "New comment"
		n.Message = fmt.Sprintf("%s commented on your post \"%s\": %s",
			name, Truncate(post.Content, commentPreviewLimit), Truncate(ev.comment, commentTextLimit))
	}
	return n
}

// LikeNotificationID is stable per (post, actor), so a repeated like event does not add a row.
func LikeNotificationID(postID, actorID string) string {
	return uuid.NewSHA1(likeNamespace, []byte("like|"+postID+"|"+actorID)).String()
}

// Truncate caps s at limit runes, ending a shortened string with "...".
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// List returns the recipient's newest notifications first.
func (e *Emitter) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = e.cfg.PageSize
	}
	if limit > e.cfg.PageMax {
		limit = e.cfg.PageMax
	}
	return e.notifications.ListNotifications(ctx, userID, limit)
}

// MarkRead flags a notification as read; only its recipient may do so.
func (e *Emitter) MarkRead(ctx context.Context, notificationID, userID string) error {
	return e.notifications.MarkNotificationRead(ctx, notificationID, userID)
}
