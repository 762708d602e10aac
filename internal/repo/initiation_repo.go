// Initiations, partitioned by notification id. One record is appended every
// time a user opens the task module of a notification; they are never
// updated or deleted.
//
// Listing is paged through the docstore continuation token, which the
// services layer wraps again before handing it to API callers. A token from
// another notification is rejected with docstore.ErrInvalidContinuation.
package repo

import (
	"context"

	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
)

// CreateInitiation appends an audit record of initiator opening
// notificationID.
func (r *Repository) CreateInitiation(ctx context.Context, initiator, notificationID string) (domain.Initiation, error) {
	c, err := r.container(ctx, InitiationsContainer)
	if err != nil {
		return domain.Initiation{}, err
	}
	in := domain.Initiation{
		Initiator:      initiator,
		NotificationID: notificationID,
		Timestamp:      r.timestamp(),
	}
	res, err := c.CreateItem(ctx, in, r.maxTries)
	if err != nil {
		return domain.Initiation{}, err
	}
	if err := res.Err(); err != nil {
		return domain.Initiation{}, err
	}
	// The store assigned the id.
	in.ID = res.Item.ID
	return in, nil
}

// GetInitiationItems returns one page of initiations for notificationID in
// insertion order. token is the continuation returned by the previous call
// ("" for the first page); next is "" once the listing is exhausted.
func (r *Repository) GetInitiationItems(ctx context.Context, notificationID, token string) (items []domain.Initiation, next string, err error) {
	c, err := r.container(ctx, InitiationsContainer)
	if err != nil {
		return nil, "", err
	}
	page, err := c.QueryPage(ctx, docstore.Query{PartitionKey: notificationID}, r.pageSize, token)
	if err != nil {
		return nil, "", err
	}
	// never nil, even for an empty page
	items = make([]domain.Initiation, 0, len(page.Items))
	for _, it := range page.Items {
		var in domain.Initiation
		if err := it.Decode(&in); err != nil {
			return nil, "", err
		}
		items = append(items, in)
	}
	return items, page.Continuation, nil
}
