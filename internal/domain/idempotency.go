package domain

import "time"

// IdempotencyRecord remembers the notification produced for an
// Idempotency-Key so that a retried POST replays the original result instead
// of delivering the notification twice. The record id is the key; records are
// partitioned by /scope. A record without NotificationID is a reservation
// held while the first request is still delivering.
type IdempotencyRecord struct {
	ID             string `json:"id"`
	Scope          string `json:"scope"`
	NotificationID string `json:"notificationId"`
	Status         int    `json:"status"`
	ExpiresAt      int64  `json:"expiresAt"` // unix milliseconds
}

// Pending reports whether the key is reserved by a request that has not
// produced a notification yet.
func (r IdempotencyRecord) Pending() bool {
	return r.NotificationID == ""
}

// Expired reports whether the record can no longer be replayed at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAt
}
