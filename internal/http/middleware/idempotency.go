// Package middleware: Idempotency-Key handling.
//
// IdempotencyValidator checks the header on admin POSTs, stashes the key for
// the handler and asks the store whether the key already has a completed
// result. The handler serves the replay; this layer only flags it:
//   - GetIdempotencyKey returns the accepted key
//   - IsReplay reports a key with a stored result
//   - replays skip the rate limiter (IsRateBypass)
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key on unsafe
// requests.
const HeaderIdempotencyKey = "Idempotency-Key"

// gin context keys
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool
	ctxKeyRateBypass = "rate.bypass" // bool; read by RateLimiter.Handler
)

// defaultKeyPattern allows unreserved URI characters plus ':'.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s := asString(v)
	return s, s != ""
}

// IsReplay reports whether the lookup found a live record for the key, that
// is, the handler will replay a stored result.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyScope is the namespace keys are stored under: the matched route,
// so the same key may be reused on different endpoints.
func IdempotencyScope(c *gin.Context) string { return routeOf(c) }

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	MaxLen  int            // 200 when <= 0
	Pattern *regexp.Regexp // token characters plus . _ ~ - : when nil
}

// IdempotencyLookup reports whether a live record exists for key within
// scope at now. Lookup errors do not fail the request.
type IdempotencyLookup func(ctx context.Context, scope, key string, now time.Time) (bool, error)

// IdempotencyValidator validates the Idempotency-Key header when present
// (400 when malformed) and stashes it for GetIdempotencyKey. When lookup
// finds a live record the request is flagged as a replay and exempted from
// rate limiting. Serving the replay is left to the handler.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		// the header is optional
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			exists, err := lookup(c.Request.Context(), IdempotencyScope(c), key, time.Now().UTC())
			// On error the request proceeds as new; PostOnce still guards delivery.
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
