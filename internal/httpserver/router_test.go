package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/registry"
	"notifyhub/internal/repository"
	"notifyhub/internal/stream"
	"notifyhub/pkg/util"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	unread  []*model.Notification
	marked  []string
	listErr error
}

func (s *fakeStore) ListUnread(_ context.Context, userID string, limit int) ([]*model.Notification, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*model.Notification
	for _, n := range s.unread {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkRead(_ context.Context, userID, id string) error {
	for _, n := range s.unread {
		if n.ID == id && n.UserID == userID {
			s.marked = append(s.marked, id)
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (s *fakeStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, row := range s.unread {
		if row.UserID == userID {
			n++
		}
	}
	return n, nil
}

type emptyMailbox struct{}

func (emptyMailbox) Pop(context.Context, string) (model.QueueEntry, bool, error) {
	return model.QueueEntry{}, false, nil
}
func (emptyMailbox) Requeue(context.Context, string, model.QueueEntry) error { return nil }

func newTestRouter(t *testing.T, store *fakeStore, reg *registry.Registry, ready map[string]ReadinessCheck) *Router {
	t.Helper()
	streamHandler := NewStreamHandler(reg, emptyMailbox{}, StreamOptions{
		Session: stream.Config{PollInterval: 10 * time.Millisecond, HeartbeatInterval: time.Hour},
	}, zap.NewNop())
	return NewRouter(streamHandler, NewNotificationHandler(store, zap.NewNop()), RouterConfig{
		JWTSecret: testSecret,
		OpenRate:  100,
		OpenBurst: 100,
		Readiness: ready,
	}, zap.NewNop())
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestStreamRejectsMissingOrBadToken(t *testing.T) {
	reg := registry.New()
	r := newTestRouter(t, &fakeStore{}, reg, nil)

	for _, target := range []string{
		"/api/notifications/stream",
		"/api/notifications/stream?token=garbage",
	} {
		w := httptest.NewRecorder()
		r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, w.Code)
		}
	}
	if reg.Len() != 0 {
		t.Error("no registry state may be created on auth failure")
	}
}

func TestStreamOpensAndCleansUp(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newTestRouter(t, &fakeStore{}, reg, nil).Engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream?token="+token(t, "u1"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f model.Frame
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &f); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if f.Type != model.FrameConnected {
		t.Errorf("first frame type = %q", f.Type)
	}

	waitUntil(t, func() bool { _, ok := reg.Get("u1"); return ok })

	cancel()
	waitUntil(t, func() bool { return reg.Len() == 0 })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func authedRequest(t *testing.T, method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token(t, userID))
	return req
}

func TestUnreadAndMarkRead(t *testing.T) {
	store := &fakeStore{unread: []*model.Notification{
		{ID: "n1", UserID: "u1", Type: model.TypeSystem, Title: "a"},
		{ID: "n2", UserID: "u2", Type: model.TypeSystem, Title: "b"},
	}}
	r := newTestRouter(t, store, registry.New(), nil)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications/unread?limit=10", "u1"))
	if w.Code != http.StatusOK {
		t.Fatalf("unread status = %d", w.Code)
	}
	var body struct {
		Notifications []model.Notification `json:"notifications"`
		Count         int                  `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Notifications[0].ID != "n1" {
		t.Errorf("unread = %+v", body)
	}

	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/notifications/n1/read", "u1"))
	if w.Code != http.StatusOK {
		t.Errorf("mark read status = %d", w.Code)
	}

	// someone else's notification looks like a missing one
	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/notifications/n2/read", "u1"))
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign mark read status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/notifications/read-all", "u1"))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"updated":1`) {
		t.Errorf("read-all = %d %s", w.Code, w.Body.String())
	}
}

func TestUnreadRejectsBadLimit(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, registry.New(), nil)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications/unread?limit=abc", "u1"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUnreadStoreError(t *testing.T) {
	r := newTestRouter(t, &fakeStore{listErr: errors.New("db down")}, registry.New(), nil)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/notifications/unread", "u1"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ready := map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}
	r := newTestRouter(t, &fakeStore{}, registry.New(), ready)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "redis_not_ready") {
		t.Errorf("readyz = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestTraceHeaderIsEchoed(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, registry.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "abc123" {
		t.Errorf("X-Trace-ID = %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/open", RateLimitMiddleware(0.001, 2), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// a different client has its own bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client = %d", w.Code)
	}
}
