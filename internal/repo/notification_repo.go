// Notifications, partitioned by tenant id.
//
// Notifications are written once, when posted, and read back by id for
// status requests and by the bot when a user opens or acknowledges one. The
// repository owns the id, tenant and timestamp of every stored notification.
//
// Functions:
//
//   - CreateNotification(ctx, n) -> (stored, error)
//   - GetNotification(ctx, id) -> (n, error); ErrNotFound when missing
package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/tbourn/notify-bot/internal/domain"
)

// CreateNotification stores n with a fresh id, the current timestamp and the
// configured tenant. Any id, tenant or timestamp supplied by the caller is
// ignored.
func (r *Repository) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	c, err := r.container(ctx, NotificationsContainer)
	if err != nil {
		return domain.Notification{}, err
	}
	n.ID = uuid.NewString()
	n.TenantID = r.tenantID
	n.Timestamp = r.timestamp()

	// A fresh uuid cannot conflict, so any non-created outcome is an error.
	res, err := c.CreateItem(ctx, n, r.maxTries)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := res.Err(); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// GetNotification loads a notification of the configured tenant.
func (r *Repository) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	var n domain.Notification
	if err := r.get(ctx, NotificationsContainer, id, r.tenantID, &n); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}
