// Package repo: idempotency records.
//
// A record maps (scope, Idempotency-Key) to the notification the first
// request produced. Records are partitioned by scope, which combines the
// caller and the route, so the same key used by two callers or on two routes
// does not collide.
//
// A record without a notification id is a reservation: a request holding
// the key is still running. The flow for a request is
//
//	CreateIdempotency(pending) -> deliver -> CompleteIdempotency
//
// with DeleteIdempotency releasing the key when delivery fails. Expired
// records are treated as absent and replaced on the next create.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (scope, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func (r *Repository) GetIdempotency(ctx context.Context, scope, key string, now time.Time) (domain.IdempotencyRecord, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return domain.IdempotencyRecord{}, ErrNotFound
	}
	var rec domain.IdempotencyRecord
	if err := r.get(ctx, IdempotencyContainer, key, scope, &rec); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if rec.Expired(now) {
		return domain.IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

// CreateIdempotency remembers that key produced notificationID within scope.
// It returns ErrDuplicate when a live record for the key exists. An expired
// record is replaced.
func (r *Repository) CreateIdempotency(ctx context.Context, scope, key, notificationID string, status int, ttl time.Duration) (domain.IdempotencyRecord, error) {
	c, err := r.container(ctx, IdempotencyContainer)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := r.now()
	rec := domain.IdempotencyRecord{
		ID:             key,
		Scope:          scope,
		NotificationID: notificationID,
		Status:         status,
		ExpiresAt:      now.Add(ttl).UnixMilli(),
	}

	res, err := c.CreateItem(ctx, rec, 1)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if res.Outcome == docstore.OutcomeCreated {
		return rec, nil
	}

	var existing domain.IdempotencyRecord
	if res.Item.Body != nil {
		if err := res.Item.Decode(&existing); err != nil {
			return domain.IdempotencyRecord{}, err
		}
		if !existing.Expired(now) {
			return domain.IdempotencyRecord{}, ErrDuplicate
		}
	}
	if err := c.DeleteItem(ctx, key, scope); err != nil && !errors.Is(err, docstore.ErrItemNotFound) {
		return domain.IdempotencyRecord{}, err
	}
	res, err = c.CreateItem(ctx, rec, 1)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if res.Outcome != docstore.OutcomeCreated {
		return domain.IdempotencyRecord{}, ErrDuplicate
	}
	return rec, nil
}

// CompleteIdempotency records notificationID on the reservation held for key,
// keeping its expiry. It returns ErrNotFound when the reservation is gone.
func (r *Repository) CompleteIdempotency(ctx context.Context, scope, key, notificationID string, status int) error {
	c, err := r.container(ctx, IdempotencyContainer)
	if err != nil {
		return err
	}
	var rec domain.IdempotencyRecord
	if err := r.get(ctx, IdempotencyContainer, key, scope, &rec); err != nil {
		return err
	}
	rec.NotificationID = notificationID
	rec.Status = status
	if _, err := c.ReplaceItem(ctx, rec); err != nil {
		if errors.Is(err, docstore.ErrItemNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteIdempotency drops the record for key. A missing record is not an
// error.
func (r *Repository) DeleteIdempotency(ctx context.Context, scope, key string) error {
	c, err := r.container(ctx, IdempotencyContainer)
	if err != nil {
		return err
	}
	if err := c.DeleteItem(ctx, key, scope); err != nil && !errors.Is(err, docstore.ErrItemNotFound) {
		return err
	}
	return nil
}
