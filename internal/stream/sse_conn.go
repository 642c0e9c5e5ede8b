package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"notifyhub/internal/model"
)

var ErrConnClosed = errors.New("connection closed")

const defaultSeenCapacity = 256

// SSEConn writes frames as server-sent events. Writes are serialized; the
// first failed write closes the connection.
type SSEConn struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu   sync.Mutex
	seen *seenSet

	done      chan struct{}
	closeOnce sync.Once
}

func NewSSEConn(w http.ResponseWriter, seenCapacity int, writeTimeout time.Duration) *SSEConn {
	if seenCapacity <= 0 {
		seenCapacity = defaultSeenCapacity
	}
	return &SSEConn{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		seen:         newSeenSet(seenCapacity),
		done:         make(chan struct{}),
	}
}

// WriteHeaders sets the event-stream headers and flushes them.
func (c *SSEConn) WriteHeaders() error {
	h := c.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.w.WriteHeader(http.StatusOK)
	return c.rc.Flush()
}

// Send writes frame as "data: <json>\n\n". A notification this connection
// already delivered is skipped and reported as success.
func (c *SSEConn) Send(frame model.Frame) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close 可能在等锁期间发生，之后不能再碰 ResponseWriter
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	if id := frame.NotificationID(); id != "" && !c.seen.add(id) {
		return nil
	}

	if c.writeTimeout > 0 {
		// ResponseRecorder 等不支持 deadline，忽略
		_ = c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", body); err != nil {
		c.markClosed()
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := c.rc.Flush(); err != nil {
		c.markClosed()
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// Close is idempotent. It returns only after any in-flight write has
// finished, so the ResponseWriter is never touched once Close returns.
// The wait is bounded by writeTimeout.
func (c *SSEConn) Close() {
	c.markClosed()
	// 拿到锁即说明进行中的写入已结束
	c.mu.Lock()
	defer c.mu.Unlock()
}

func (c *SSEConn) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *SSEConn) Done() <-chan struct{} {
	return c.done
}

// seenSet remembers the last N notification ids in insertion order.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids:   make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// add reports false when id is already present.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if evicted := s.order[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.order[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
	return true
}
