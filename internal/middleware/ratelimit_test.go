package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
)

func allow(t *testing.T, l Limiter, key string) Decision {
	t.Helper()
	d, err := l.Allow(context.Background(), key)
	if err != nil {
		t.Fatalf("Allow(%q) error: %v", key, err)
	}
	return d
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if d := allow(t, l, "ip:1"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	d := allow(t, l, "ip:1")
	if d.Allowed {
		t.Fatal("third request should be limited")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %s, want 1m", d.RetryAfter)
	}

	if other := allow(t, l, "ip:2"); !other.Allowed {
		t.Fatal("other keys have their own window")
	}

	now = now.Add(61 * time.Second)
	d = allow(t, l, "ip:1")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after window: %+v", d)
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, "grafo:rl", 2, time.Minute)
	l.now = func() time.Time { return now }

	d := allow(t, l, "user:u1")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first request: %+v", d)
	}
	allow(t, l, "user:u1")

	d = allow(t, l, "user:u1")
	if d.Allowed {
		t.Fatal("third request should be limited")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %s, want 1m", d.RetryAfter)
	}
	if !mr.Exists("grafo:rl:user:u1") {
		t.Fatal("expected counter key in redis")
	}

	now = now.Add(time.Minute)
	if d := allow(t, l, "user:u1"); !d.Allowed {
		t.Fatal("new window should allow")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, assertError("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := I18N("en", nil)(RateLimit(NewMemoryLimiter(1, 15*time.Minute), ByClientIP, i18n.MsgRateLimited, nil)(ok))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.RemoteAddr = "198.51.100.7:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q", got)
	}

	req.Header.Set("X-Locale", "it")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("Retry-After = %q, want 900", got)
	}

	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Code != string(i18n.MsgRateLimited) {
		t.Fatalf("body = %+v", body)
	}
	if body.Error != "Troppe richieste. Riprova tra 15 minuti." {
		t.Fatalf("message = %q", body.Error)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimit(failingLimiter{}, ByClientIP, i18n.MsgRateLimited, nil)(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestByUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/process-image", nil)
	req.RemoteAddr = "198.51.100.7:5000"
	if got := ByUser(req); got != "ip:198.51.100.7" {
		t.Fatalf("anonymous key = %q", got)
	}

	req = req.WithContext(ContextWithUser(req.Context(), &domain.User{ID: "u9"}))
	if got := ByUser(req); got != "user:u9" {
		t.Fatalf("user key = %q", got)
	}
}
