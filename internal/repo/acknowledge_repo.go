// Acknowledgements, partitioned by notification id.
//
// A notification can be acknowledged once. The first writer wins through the
// store's id uniqueness rather than through a read-then-write check, so two
// users pressing the button at the same moment still produce one record.
package repo

import (
	"context"

	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
)

// CreateAcknowledge records that account acknowledged notificationID. The
// record id is the notification id, so only the first acknowledgement is
// stored. A later call returns the stored record with created=false.
func (r *Repository) CreateAcknowledge(ctx context.Context, notificationID string, account domain.Account) (domain.Acknowledgement, bool, error) {
	c, err := r.container(ctx, AcknowledgesContainer)
	if err != nil {
		return domain.Acknowledgement{}, false, err
	}
	// id == partition key: one acknowledgement per notification.
	ack := domain.Acknowledgement{
		ID:             notificationID,
		NotificationID: notificationID,
		Username:       account.Name,
		UserAADID:      account.AADObjectID,
		Timestamp:      r.timestamp(),
	}
	res, err := c.CreateItem(ctx, ack, r.maxTries)
	if err != nil {
		return domain.Acknowledgement{}, false, err
	}
	if res.Outcome == docstore.OutcomeCreated {
		return ack, true, nil
	}
	// Lost the race. Report the winner; an empty record when it could not
	// be read back.
	var existing domain.Acknowledgement
	if res.Item.Body != nil {
		if err := res.Item.Decode(&existing); err != nil {
			return domain.Acknowledgement{}, false, err
		}
	}
	return existing, false, nil
}

// GetAcknowledgeItems lists every acknowledgement of notificationID.
func (r *Repository) GetAcknowledgeItems(ctx context.Context, notificationID string) ([]domain.Acknowledgement, error) {
	c, err := r.container(ctx, AcknowledgesContainer)
	if err != nil {
		return nil, err
	}
	items, err := c.QueryAll(ctx, docstore.Query{PartitionKey: notificationID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Acknowledgement, 0, len(items))
	for _, it := range items {
		var a domain.Acknowledgement
		if err := it.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
