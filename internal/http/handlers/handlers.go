// Package handlers – dependencies
//
// This file declares the service interfaces the handlers call and the
// Handlers value that binds them. The bot endpoint answers with the invoke
// response body as is, or an empty 200 when ProcessActivity returns nil.
package handlers

import (
	"context"

	"github.com/tbourn/notify-bot/internal/auth"
	"github.com/tbourn/notify-bot/internal/bot"
	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/services"
)

// TokenIssuer exchanges admin credentials for a token. A credential
// mismatch is (nil, nil).
type TokenIssuer interface {
	Authenticate(ctx context.Context, login, password string) (*auth.Token, error)
}

// NotificationService posts and reports on notifications.
type NotificationService interface {
	// PostOnce delivers n unless key already has a result.
	PostOnce(ctx context.Context, scope, key string, n domain.Notification) (id string, replayed bool, err error)
	// Get reports status and acknowledgements.
	Get(ctx context.Context, id string) (services.NotificationStatus, error)
	// Initiations pages through the users who opened the notification.
	Initiations(ctx context.Context, id, pageToken string) (services.InitiationsPage, error)
}

// MessageService relays Power Automate messages.
type MessageService interface {
	Send(ctx context.Context, m services.PAMessage) (string, error)
}

// ActivityProcessor runs a bot turn.
type ActivityProcessor interface {
	// ProcessActivity returns nil for activities that expect no body.
	ProcessActivity(ctx context.Context, a *connector.Activity) *bot.InvokeResponse
}

// Handlers groups the HTTP endpoints. Dependencies are abstract so that
// tests can stub them.
type Handlers struct {
	tokens        TokenIssuer
	notifications NotificationService
	messages      MessageService
	bot           ActivityProcessor
	channelAuth   connector.Authenticator
}

// Deps are the services Handlers dispatch to.
type Deps struct {
	Tokens        TokenIssuer
	Notifications NotificationService
	Messages      MessageService
	Bot           ActivityProcessor
	// ChannelAuth verifies the channel's JWT on inbound activities;
	// connector.NoAuth{} when nil.
	ChannelAuth connector.Authenticator
}

// New returns Handlers bound to d.
func New(d Deps) *Handlers {
	if d.ChannelAuth == nil {
		d.ChannelAuth = connector.NoAuth{}
	}
	return &Handlers{
		tokens:        d.Tokens,
		notifications: d.Notifications,
		messages:      d.Messages,
		bot:           d.Bot,
		channelAuth:   d.ChannelAuth,
	}
}
