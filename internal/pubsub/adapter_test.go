package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
)

func TestChannelNames(t *testing.T) {
	a := NewAdapter(nil, "", nil, zap.NewNop())

	if got := a.UserChannel("42"); got != "private-user-42" {
		t.Errorf("UserChannel = %q", got)
	}
	if got := a.TeamChannel("42"); got != "private-team-42" {
		t.Errorf("TeamChannel = %q", got)
	}
	if a.UserChannel("42") == a.TeamChannel("42") {
		t.Error("user and team channels must not collide")
	}
}

func TestRedisBackendDeliversFrame(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "private-user-u1")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	a := NewAdapter(NewRedisBackend(rdb), "private", nil, zap.NewNop())
	n := &model.Notification{ID: "n-1", Type: model.TypeSystem, Title: "hi", UserID: "u1"}
	if err := a.PublishToUser(ctx, "u1", n); err != nil {
		t.Fatalf("PublishToUser: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var f model.Frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.Type != model.FrameNotification || f.NotificationID() != "n-1" {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

type failingBackend struct{ calls int }

func (f *failingBackend) Publish(context.Context, string, []byte) error {
	f.calls++
	return errors.New("provider down")
}
func (f *failingBackend) Name() string { return "failing" }

func TestBreakerStopsCallingFailingBackend(t *testing.T) {
	backend := &failingBackend{}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})
	a := NewAdapter(backend, "", breaker, zap.NewNop())
	n := &model.Notification{ID: "n-1"}

	for i := 0; i < 5; i++ {
		if err := a.PublishToTeam(context.Background(), "t1", n); err == nil {
			t.Fatal("expected error")
		}
	}
	if backend.calls != 2 {
		t.Errorf("backend called %d times, want 2", backend.calls)
	}
	if breaker.GetState() != circuitbreaker.StateOpen {
		t.Errorf("state = %v, want open", breaker.GetState())
	}
}
