package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notifyhub/internal/model"
	"notifyhub/internal/registry"
	"notifyhub/pkg/metrics"
)

// State of a stream session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	// StateStreaming: poll and heartbeat loops both running
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the handle a session drives.
type Conn interface {
	registry.Handle
	Done() <-chan struct{}
}

// Mailbox is the queue side a session reads from.
type Mailbox interface {
	Pop(ctx context.Context, userID string) (model.QueueEntry, bool, error)
	Requeue(ctx context.Context, userID string, entry model.QueueEntry) error
}

type Config struct {
	PollInterval      time.Duration
	PollBatch         int
	PollErrorBackoff  time.Duration
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		PollBatch:         10,
		PollErrorBackoff:  5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollBatch <= 0 {
		c.PollBatch = d.PollBatch
	}
	if c.PollErrorBackoff <= 0 {
		c.PollErrorBackoff = d.PollErrorBackoff
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

var errHandleClosed = errors.New("handle closed")

// Session owns one client connection from open to close.
type Session struct {
	userID   string
	conn     Conn
	registry *registry.Registry
	mailbox  Mailbox
	cfg      Config
	logger   *zap.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

func NewSession(userID string, conn Conn, reg *registry.Registry, mailbox Mailbox, cfg Config, logger *zap.Logger) *Session {
	return &Session{
		userID:   userID,
		conn:     conn,
		registry: reg,
		mailbox:  mailbox,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("user_id", userID)),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run blocks until the client goes away, a send fails, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateOpen)

	connected, err := model.NewFrame(model.FrameConnected, map[string]string{"user_id": s.userID})
	if err == nil {
		err = s.conn.Send(connected)
	}
	if err != nil {
		s.close("connect_failed")
		return err
	}
	metrics.IncrementFrameSent(model.FrameConnected)

	if replaced := s.registry.Register(s.userID, s.conn); replaced {
		s.logger.Info("Replaced existing stream connection")
	}
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	s.setState(StateStreaming)
	s.logger.Info("Stream opened")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pollLoop(gctx) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.conn.Done():
			return errHandleClosed
		}
	})

	err = g.Wait()
	reason := "client_disconnect"
	switch {
	case errors.Is(err, errHandleClosed):
		reason = "handle_closed"
	case err != nil:
		reason = "send_failed"
	}
	s.close(reason)

	if errors.Is(err, errHandleClosed) {
		return nil
	}
	return err
}

// close runs cleanup exactly once regardless of which path triggers it.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.registry.Deregister(s.userID, s.conn)
		s.conn.Close()
		s.setState(StateClosed)

		metrics.IncrementSessionClosed(reason)
		s.logger.Info("Stream closed", zap.String("reason", reason))
	})
}

func (s *Session) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.drain(ctx); err != nil {
			if errors.Is(err, errQueueUnavailable) {
				// 队列故障不结束会话，退避后继续
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(s.cfg.PollErrorBackoff):
				}
				continue
			}
			return err
		}
	}
}

var errQueueUnavailable = errors.New("queue unavailable")

// drain forwards up to PollBatch queued entries.
func (s *Session) drain(ctx context.Context) error {
	for i := 0; i < s.cfg.PollBatch; i++ {
		entry, ok, err := s.mailbox.Pop(ctx, s.userID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Queue pop failed", zap.Error(err))
			return errQueueUnavailable
		}
		if !ok {
			return nil
		}

		if err := s.conn.Send(entry); err != nil {
			metrics.RecordDelivery("poll", err)
			// 弹出后写失败，放回队头等下一个连接
			if rqErr := s.mailbox.Requeue(context.WithoutCancel(ctx), s.userID, entry); rqErr != nil {
				s.logger.Warn("Failed to requeue entry", zap.Error(rqErr))
			}
			return err
		}
		metrics.RecordDelivery("poll", nil)
		metrics.IncrementFrameSent(entry.Type)
		s.registry.Touch(s.userID, s.conn)
	}
	return nil
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		hb, _ := model.NewFrame(model.FrameHeartbeat, nil)
		if err := s.conn.Send(hb); err != nil {
			s.logger.Info("Heartbeat failed", zap.Error(err))
			return err
		}
		metrics.IncrementFrameSent(model.FrameHeartbeat)
		s.registry.Touch(s.userID, s.conn)
	}
}
