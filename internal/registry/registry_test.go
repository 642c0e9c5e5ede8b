package registry

import (
	"sync"
	"testing"
	"time"

	"notifyhub/internal/model"
)

type fakeHandle struct{ name string }

func (f *fakeHandle) Send(model.Frame) error { return nil }
func (f *fakeHandle) Close()                 {}

func TestRegisterGetRemove(t *testing.T) {
	r := New()
	h := &fakeHandle{name: "a"}

	if replaced := r.Register("u1", h); replaced {
		t.Error("first Register should not report replacement")
	}
	got, ok := r.Get("u1")
	if !ok || got != h {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	r.Remove("u1")
	r.Remove("u1")
	r.Remove("never-registered")

	if _, ok := r.Get("u1"); ok {
		t.Error("u1 should be gone")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegisterReplacesOlderHandle(t *testing.T) {
	r := New()
	older := &fakeHandle{name: "old"}
	newer := &fakeHandle{name: "new"}

	r.Register("u1", older)
	if replaced := r.Register("u1", newer); !replaced {
		t.Error("second Register should report replacement")
	}

	// the superseded session closing must not evict the newer handle
	if r.Deregister("u1", older) {
		t.Error("Deregister with stale handle should be a no-op")
	}
	if got, _ := r.Get("u1"); got != newer {
		t.Fatalf("Get = %v, want newer", got)
	}
	if !r.Deregister("u1", newer) {
		t.Error("Deregister with current handle should remove")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestStaleAndTouch(t *testing.T) {
	r := New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	busy := &fakeHandle{}
	r.Register("idle", &fakeHandle{})
	r.Register("busy", busy)

	clock = clock.Add(6 * time.Minute)
	r.Touch("busy", busy)
	r.Touch("unknown", busy)

	stale := r.Stale(5 * time.Minute)
	if len(stale) != 1 || stale[0].UserID != "idle" {
		t.Fatalf("Stale = %+v, want only idle", stale)
	}
}

func TestTouchIgnoresReplacedHandle(t *testing.T) {
	r := New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	older := &fakeHandle{}
	newer := &fakeHandle{}
	r.Register("u1", older)
	r.Register("u1", newer)

	// the older session keeps heartbeating after being replaced
	clock = clock.Add(6 * time.Minute)
	r.Touch("u1", older)

	stale := r.Stale(5 * time.Minute)
	if len(stale) != 1 || stale[0].Handle != newer {
		t.Fatalf("Stale = %+v, want the newer handle", stale)
	}

	r.Touch("u1", newer)
	if stale := r.Stale(5 * time.Minute); len(stale) != 0 {
		t.Errorf("Stale = %+v after touching current handle", stale)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{}
			r.Register("u", h)
			r.Touch("u", h)
			r.Get("u")
			r.Deregister("u", h)
			r.Remove("u")
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
