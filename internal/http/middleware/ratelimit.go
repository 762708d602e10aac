// Package middleware: Rate limiting
//
// RateLimiter is a token bucket per caller built on golang.org/x/time/rate.
// Refused requests get 429 with a Retry-After header. State is held in
// memory, so the limit applies per process, not per deployment.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to the identity its token bucket is keyed by.
type KeyFunc func(*gin.Context) string

// KeyBySubjectOrIP keys authenticated requests by token subject and the rest
// by client IP. Install the limiter after BearerAuth for the subject to be
// known.
func KeyBySubjectOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if sub, ok := SubjectFrom(c); ok {
			return "sub:" + sub
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket is one caller's limiter and the time it was last used.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token-bucket limiter with one bucket per
// key. Buckets idle for longer than the TTL are swept every sweepEvery
// lookups.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	ttl   time.Duration // idle time before a bucket is dropped

	// mu guards buckets and lookups.
	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int // since the last sweep
}

// sweepEvery is the number of lookups between idle-bucket sweeps.
const sweepEvery = 5000

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst (at least 1) per key.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyBySubjectOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		ttl:     10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns the bucket for key, creating it on first use.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so an idle bucket for key is dropped too.
	if rl.lookups++; rl.lookups >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// IsRateBypass reports whether the request is an idempotent replay and so
// exempt from limiting.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit, answering 429 with Retry-After: 1 when a
// bucket is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.limiter(rl.keyFn(c), time.Now()).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
