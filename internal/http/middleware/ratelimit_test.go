package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyBySubjectOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:4711"

	key := KeyBySubjectOrIP()
	if got := key(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(subjectKey, "ops-dashboard")
	if got := key(c); got != "sub:ops-dashboard" {
		t.Fatalf("subject key = %q", got)
	}
}

func TestRateLimiter_BucketsPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	now := time.Now()
	a := rl.limiter("a", now)
	if rl.limiter("a", now) != a {
		t.Fatal("bucket not reused")
	}
	if rl.limiter("b", now) == a {
		t.Fatal("buckets shared across keys")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	start := time.Now()
	rl.limiter("idle", start)
	// next lookup triggers the sweep
	rl.lookups = sweepEvery - 1

	later := start.Add(rl.ttl + time.Second)
	rl.limiter("fresh", later)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["idle"]; ok {
		t.Fatal("idle bucket survived the sweep")
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Fatal("fresh bucket missing")
	}
}

// TestRateLimiter_Handler drains a one-token bucket and expects 429 with
// Retry-After.
func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.001, 1, func(*gin.Context) string { return "one" })

	r := gin.New()
	r.Use(RequestID())
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/admin/v1/notification/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(replay bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin/v1/notification/n1", nil)
		if replay {
			req.Header.Set("X-Replay", "1")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(false); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := do(false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != "rate_limited" {
		t.Fatalf("body = %s (%v)", w.Body.String(), err)
	}
	// replayed requests skip the limiter
	if w := do(true); w.Code != http.StatusOK {
		t.Fatalf("replay should bypass the limiter, got %d", w.Code)
	}
}
