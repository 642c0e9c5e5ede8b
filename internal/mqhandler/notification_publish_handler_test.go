package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/service"
	"notifyhub/pkg/util"
)

type stubDispatcher struct {
	err    error
	events []model.Event
}

func (s *stubDispatcher) Publish(_ context.Context, ev model.Event) (*model.Notification, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	return ev.ToNotification("n-1"), nil
}

type dlqCall struct {
	routingKey string
	errType    string
}

type stubDLQ struct{ calls []dlqCall }

func (s *stubDLQ) PublishToDLQ(_ context.Context, routingKey string, _ []byte, _, errorType string) error {
	s.calls = append(s.calls, dlqCall{routingKey: routingKey, errType: errorType})
	return nil
}

func newRetryCounter(t *testing.T) *util.RetryCounter {
	rc, _ := newRetryCounterWithServer(t)
	return rc
}

func newRetryCounterWithServer(t *testing.T) (*util.RetryCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return util.NewRetryCounter(rdb, time.Hour), mr
}

func payload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":      "TASK_ASSIGNED",
		"title":     "Assigned",
		"user_id":   "u1",
		"team_id":   "t1",
		"dedup_key": "task-1-assigned",
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleDispatchesEvent(t *testing.T) {
	d := &stubDispatcher{}
	dlq := &stubDLQ{}
	h := NewNotificationPublishHandler(d, dlq, newRetryCounter(t), 3, zap.NewNop())

	if err := h.Handle(context.Background(), payload(t)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(d.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(d.events))
	}
	ev := d.events[0]
	if ev.UserID != "u1" || ev.TeamID != "t1" || ev.Type != model.TypeTaskAssigned || ev.DedupKey != "task-1-assigned" {
		t.Errorf("event = %+v", ev)
	}
	if len(dlq.calls) != 0 {
		t.Error("no DLQ expected")
	}
}

func TestHandleMalformedJSONGoesToDLQ(t *testing.T) {
	dlq := &stubDLQ{}
	h := NewNotificationPublishHandler(&stubDispatcher{}, dlq, nil, 3, zap.NewNop())

	if err := h.Handle(context.Background(), json.RawMessage(`{not json`)); err != nil {
		t.Fatalf("Handle = %v, want nil (ack)", err)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].errType != "json_decode_error" {
		t.Fatalf("dlq = %+v", dlq.calls)
	}
	if dlq.calls[0].routingKey != "notification.publish" {
		t.Errorf("routing key = %q", dlq.calls[0].routingKey)
	}
}

func TestHandleInvalidEventGoesToDLQ(t *testing.T) {
	dlq := &stubDLQ{}
	d := &stubDispatcher{err: fmt.Errorf("%w: user_id is required", service.ErrInvalidEvent)}
	h := NewNotificationPublishHandler(d, dlq, nil, 3, zap.NewNop())

	if err := h.Handle(context.Background(), payload(t)); err != nil {
		t.Fatalf("Handle = %v, want nil", err)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].errType != "invalid_event" {
		t.Fatalf("dlq = %+v", dlq.calls)
	}
}

func TestHandleDuplicateIsAcked(t *testing.T) {
	dlq := &stubDLQ{}
	h := NewNotificationPublishHandler(&stubDispatcher{err: service.ErrDuplicateEvent}, dlq, nil, 3, zap.NewNop())

	if err := h.Handle(context.Background(), payload(t)); err != nil {
		t.Fatalf("Handle = %v, want nil", err)
	}
	if len(dlq.calls) != 0 {
		t.Error("duplicates are not dead-lettered")
	}
}

func TestHandleRetryableErrorRequeuesUntilLimit(t *testing.T) {
	dlq := &stubDLQ{}
	d := &stubDispatcher{err: errors.New("failed to persist notification: connection refused")}
	h := NewNotificationPublishHandler(d, dlq, newRetryCounter(t), 2, zap.NewNop())
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		if err := h.Handle(ctx, payload(t)); err == nil {
			t.Fatalf("attempt %d: want error to trigger requeue", attempt)
		}
	}
	if err := h.Handle(ctx, payload(t)); err != nil {
		t.Fatalf("attempt 3: Handle = %v, want nil after retries exhausted", err)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].errType != "connection_error" {
		t.Fatalf("dlq = %+v", dlq.calls)
	}
}

func TestHandlePermanentErrorSkipsRetry(t *testing.T) {
	dlq := &stubDLQ{}
	d := &stubDispatcher{err: util.Permanent("payload_too_large", errors.New("payload exceeds limit"))}
	h := NewNotificationPublishHandler(d, dlq, newRetryCounter(t), 5, zap.NewNop())

	if err := h.Handle(context.Background(), payload(t)); err != nil {
		t.Fatalf("Handle = %v, want nil", err)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].errType != "payload_too_large" {
		t.Fatalf("dlq = %+v", dlq.calls)
	}
}

func TestHandleRetryCounterUnavailableDeadLetters(t *testing.T) {
	dlq := &stubDLQ{}
	d := &stubDispatcher{err: errors.New("failed to persist notification: connection refused")}
	rc, mr := newRetryCounterWithServer(t)
	h := NewNotificationPublishHandler(d, dlq, rc, 5, zap.NewNop())
	mr.Close()

	if err := h.Handle(context.Background(), payload(t)); err != nil {
		t.Fatalf("Handle = %v, want nil so the message is not requeued forever", err)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].errType != "connection_error" {
		t.Fatalf("dlq = %+v", dlq.calls)
	}
}
