// Package services – MessageService
//
// This file implements the relay used by Power Automate flows: a text, an
// adaptive card or both are posted into a conversation the bot has already
// seen. Nothing is stored; the conversation reference must exist, and the
// channel's activity id is returned so a flow can thread replies.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/notify-bot/internal/cards"
	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/repo"
)

// ConversationRepo resolves stored conversation references.
type ConversationRepo interface {
	// GetConversation returns repo.ErrNotFound for conversations the bot
	// has never seen.
	GetConversation(ctx context.Context, conversationID, tenantID string) (domain.ConversationReference, error)
}

// PAMessage is a message relayed from a Power Automate flow into a stored
// conversation. Card is an adaptive card given either as a JSON object or as
// a string holding one.
type PAMessage struct {
	ConversationID string          `json:"conversationId"`
	TenantID       string          `json:"tenantId"`
	Text           string          `json:"text,omitempty"`
	Card           json.RawMessage `json:"card,omitempty"`
}

// MessageService relays PAMessages.
type MessageService struct {
	// Repo resolves the target conversation.
	Repo ConversationRepo
	// Sender posts the activity.
	Sender connector.Sender
}

// Send delivers m and returns the id the channel assigned to the activity.
func (s *MessageService) Send(ctx context.Context, m PAMessage) (string, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Send",
		trace.WithAttributes(attribute.String("conversation.id", m.ConversationID)))
	defer span.End()

	m.ConversationID = strings.TrimSpace(m.ConversationID)
	// an explicit null card counts as no card
	hasCard := len(m.Card) > 0 && string(m.Card) != "null"
	if m.ConversationID == "" {
		return "", fmt.Errorf("%w: conversationId is required", ErrInvalidMessage)
	}
	if m.Text == "" && !hasCard {
		return "", fmt.Errorf("%w: text or card is required", ErrInvalidMessage)
	}

	// A card given as a string is parsed before the conversation lookup, so
	// a malformed card is a 400 even for unknown conversations.
	out := connector.MessageActivity(m.Text)
	if hasCard {
		card, err := cards.Parse(m.Card)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		// text, if any, goes alongside the card
		withCard := connector.CardActivity(card)
		withCard.Text = m.Text
		out = withCard
	}

	ref, err := s.Repo.GetConversation(ctx, m.ConversationID, m.TenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrConversationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	id, err := s.Sender.SendToConversation(ctx, ref, out)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return id, nil
}
