// Conversation references, partitioned by tenant id.
//
// A reference is what the bot needs to post into a conversation later
// without an inbound activity: the service URL, the conversation and tenant
// ids, and the bot and user accounts of the turn that installed it.
//
// Error semantics:
//   - A reference without a conversation id or tenant id is refused with
//     docstore.ErrMissingPartitionKey before touching the store.
//   - Reads of unknown conversations return an error wrapping ErrNotFound.
//
// Functions:
//
//   - CreateConversationReference(ctx, ref) -> (stored, created, error)
//   - GetConversation(ctx, conversationID, tenantID) -> (ref, error)
package repo

import (
	"context"
	"fmt"

	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
)

// CreateConversationReference stores ref under its conversation id. When the
// conversation is already known the stored reference is authoritative: it is
// returned unchanged with created=false.
func (r *Repository) CreateConversationReference(ctx context.Context, ref domain.ConversationReference) (domain.ConversationReference, bool, error) {
	if ref.Conversation.ID == "" || ref.Conversation.TenantID == "" {
		return domain.ConversationReference{}, false, fmt.Errorf("conversation reference: %w", docstore.ErrMissingPartitionKey)
	}
	c, err := r.container(ctx, ConversationsContainer)
	if err != nil {
		return domain.ConversationReference{}, false, err
	}
	// One reference per conversation, whoever wrote it first.
	ref.ID = ref.Conversation.ID

	// OutcomeAlreadyExists carries the stored document.
	res, err := c.CreateItem(ctx, ref, r.maxTries)
	if err != nil {
		return domain.ConversationReference{}, false, err
	}
	if res.Outcome == docstore.OutcomeAlreadyExists && res.Item.Body == nil {
		// The conflicting record vanished before it could be read back.
		return ref, false, nil
	}
	var out domain.ConversationReference
	if err := res.Item.Decode(&out); err != nil {
		return domain.ConversationReference{}, false, err
	}
	return out, res.Outcome == docstore.OutcomeCreated, nil
}

// GetConversation loads the reference for conversationID within tenantID.
// An empty tenantID means the configured tenant.
func (r *Repository) GetConversation(ctx context.Context, conversationID, tenantID string) (domain.ConversationReference, error) {
	if tenantID == "" {
		tenantID = r.tenantID
	}
	var ref domain.ConversationReference
	if err := r.get(ctx, ConversationsContainer, conversationID, tenantID, &ref); err != nil {
		return domain.ConversationReference{}, err
	}
	return ref, nil
}

// get decodes the document (id, pk) of container into v. A missing document
// yields an error wrapping ErrNotFound.
func (r *Repository) get(ctx context.Context, container, id, pk string, v any) error {
	c, err := r.container(ctx, container)
	if err != nil {
		return err
	}
	it, err := c.GetItem(ctx, id, pk)
	if err != nil {
		return err
	}
	return it.Decode(v)
}
