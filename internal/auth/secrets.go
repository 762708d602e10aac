// Package auth: admin credential cache.
//
// The admin login and password live in Secrets Manager. secretCache keeps
// them in memory for SECRET_CACHE_TTL so that token validation does not hit
// the secret store on every request, and retries transient failures with an
// exponential backoff (cenkalti/backoff).
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/notify-bot/internal/keyvault"
)

// secretSource is the part of keyvault.Adapter the cache reads from.
type secretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// cachedSecret is one cache entry; fetched drives expiry.
type cachedSecret struct {
	value   string
	fetched time.Time
}

// secretCache keeps secrets for ttl and collapses concurrent fetches of the
// same name. Fetches are retried only on keyvault.ErrTransient.
type secretCache struct {
	src      secretSource
	ttl      time.Duration
	tries    uint
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex // guards entries only
	entries map[string]cachedSecret
	group   singleflight.Group // keyed by secret name
}

// newSecretCache applies defaults: ttl 5m, 3 tries, 100ms first interval.
func newSecretCache(src secretSource, ttl time.Duration, tries int, interval time.Duration, now func() time.Time) *secretCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if tries < 1 {
		tries = 3
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &secretCache{
		src:      src,
		ttl:      ttl,
		tries:    uint(tries),
		interval: interval,
		now:      now,
		entries:  make(map[string]cachedSecret),
	}
}

// get returns the cached value of name or fetches it. A failed fetch is not
// cached, so the next call tries again.
func (c *secretCache) get(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.value, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		// Shared with every concurrent caller for name.
		return c.fetch(context.WithoutCancel(ctx), name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetch retries only keyvault.ErrTransient; anything else stops at once.
func (c *secretCache) fetch(ctx context.Context, name string) (string, error) {
	// Jittered exponential backoff, capped at ten times the first interval.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	b.MaxInterval = 10 * c.interval

	value, err := backoff.Retry(ctx, func() (string, error) {
		v, err := c.src.GetSecret(ctx, name)
		if err != nil && !errors.Is(err, keyvault.ErrTransient) {
			return "", backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.tries))
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[name] = cachedSecret{value: value, fetched: c.now()}
	c.mu.Unlock()
	return value, nil
}
