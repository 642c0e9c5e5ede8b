package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/registry"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/otel"
)

var (
	ErrInvalidEvent   = errors.New("invalid event")
	ErrDuplicateEvent = errors.New("duplicate event")
)

const dedupScope = "notification"

type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

type Queue interface {
	Push(ctx context.Context, userID string, entry model.QueueEntry) error
}

type TeamDirectory interface {
	Members(ctx context.Context, teamID string) ([]string, error)
}

type PubSub interface {
	PublishToUser(ctx context.Context, userID string, n *model.Notification) error
	PublishToTeam(ctx context.Context, teamID string, n *model.Notification) error
}

type Deduper interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
	Release(ctx context.Context, scope, key string)
}

type Options struct {
	// Team, PubSub and Deduper are optional.
	Team          TeamDirectory
	PubSub        PubSub
	Deduper       Deduper
	PubSubTimeout time.Duration
}

// Dispatcher persists an event and fans it out over every delivery path.
// Only persistence failures reach the caller.
type Dispatcher struct {
	store    NotificationStore
	queue    Queue
	registry *registry.Registry
	team     TeamDirectory
	pubsub   PubSub
	deduper  Deduper
	logger   *zap.Logger

	pubsubTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(store NotificationStore, queue Queue, reg *registry.Registry, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.PubSubTimeout <= 0 {
		opts.PubSubTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:         store,
		queue:         queue,
		registry:      reg,
		team:          opts.Team,
		pubsub:        opts.PubSub,
		deduper:       opts.Deduper,
		logger:        logger,
		pubsubTimeout: opts.PubSubTimeout,
	}
}

func validate(ev model.Event) error {
	switch {
	case ev.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	case !ev.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	case ev.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	return nil
}

// Publish persists ev and delivers it to the recipient and, if ev carries a
// team, to every other team member.
func (d *Dispatcher) Publish(ctx context.Context, ev model.Event) (*model.Notification, error) {
	ctx, span := otel.StartSpan(ctx, "Dispatcher.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.type", string(ev.Type)),
		attribute.String("notification.user_id", ev.UserID),
	)

	log := logger.WithTrace(ctx, d.logger)

	if err := validate(ev); err != nil {
		metrics.IncrementPublished("invalid")
		return nil, err
	}

	if ev.DedupKey != "" && d.deduper != nil {
		if !d.deduper.AcquireOnce(ctx, dedupScope, ev.DedupKey) {
			metrics.IncrementPublished("duplicate")
			return nil, ErrDuplicateEvent
		}
	}

	n, err := d.store.Create(ctx, ev.ToNotification(uuid.NewString()))
	if err != nil {
		if ev.DedupKey != "" && d.deduper != nil {
			d.deduper.Release(ctx, dedupScope, ev.DedupKey)
		}
		metrics.IncrementPublished("store_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		log.Error("Failed to persist notification",
			zap.String("user_id", ev.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}
	span.SetAttributes(attribute.String("notification.id", n.ID))

	frame, err := model.NewFrame(model.FrameNotification, n)
	if err != nil {
		// 已落库，客户端可通过 unread 接口补齐
		log.Error("Failed to build notification frame",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		metrics.IncrementPublished("ok")
		return n, nil
	}

	d.deliver(ctx, log, n.UserID, frame)

	if n.TeamID != nil {
		d.fanOutTeam(ctx, log, *n.TeamID, n, frame)
	}

	if d.pubsub != nil {
		d.goPublish(ctx, func(ctx context.Context) error {
			return d.pubsub.PublishToUser(ctx, n.UserID, n)
		})
	}

	metrics.IncrementPublished("ok")
	log.Info("Notification published",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
	)
	return n, nil
}

// deliver pushes to the durable queue, then hands the frame to the local
// connection on a tracked goroutine so a slow client never stalls the producer.
func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, userID string, frame model.Frame) {
	err := d.queue.Push(ctx, userID, frame)
	metrics.RecordDelivery("queue", err)
	if err != nil {
		log.Warn("Failed to enqueue notification",
			zap.String("user_id", userID),
			zap.String("notification_id", frame.NotificationID()),
			zap.Error(err),
		)
	}

	h, ok := d.registry.Get(userID)
	if !ok {
		return
	}
	d.spawn(func() { d.sendDirect(log, userID, h, frame) })
}

func (d *Dispatcher) sendDirect(log *zap.Logger, userID string, h registry.Handle, frame model.Frame) {
	err := h.Send(frame)
	metrics.RecordDelivery("direct", err)
	if err != nil {
		log.Info("Direct send failed, dropping connection",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		d.registry.Deregister(userID, h)
		h.Close()
		return
	}
	d.registry.Touch(userID, h)
}

func (d *Dispatcher) fanOutTeam(ctx context.Context, log *zap.Logger, teamID string, n *model.Notification, frame model.Frame) {
	if d.team != nil {
		members, err := d.team.Members(ctx, teamID)
		if err != nil {
			log.Warn("Failed to resolve team members",
				zap.String("team_id", teamID),
				zap.Error(err),
			)
		}

		seen := map[string]struct{}{n.UserID: {}}
		for _, member := range members {
			if _, dup := seen[member]; dup || member == "" {
				continue
			}
			seen[member] = struct{}{}
			d.deliver(ctx, log, member, frame)
		}
	}

	if d.pubsub != nil {
		d.goPublish(ctx, func(ctx context.Context) error {
			return d.pubsub.PublishToTeam(ctx, teamID, n)
		})
	}
}

// goPublish runs fn detached from the caller's cancellation. Skipped after Close.
func (d *Dispatcher) goPublish(ctx context.Context, fn func(context.Context) error) {
	d.spawn(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.pubsubTimeout)
		defer cancel()
		_ = fn(ctx)
	})
}

// spawn runs fn on a goroutine Close waits for. No-op after Close.
func (d *Dispatcher) spawn(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Close waits for in-flight direct sends and pub/sub publishes. The queue
// still carries anything published afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
