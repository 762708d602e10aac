// Package connector: REST client
//
// Client sends, replies to and updates activities through the Bot Connector
// API at the service URL stored with each conversation reference. Tokens are
// obtained with the OAuth2 client credentials grant and cached by
// golang.org/x/oauth2 until shortly before they expire.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tbourn/notify-bot/internal/domain"
)

// Public cloud defaults; sovereign clouds override both.
const (
	defaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	defaultScope    = "https://api.botframework.com/.default"
)

// ErrConnector wraps non-2xx responses from the channel.
var ErrConnector = errors.New("connector: request failed")

// Sender delivers activities into stored conversations.
type Sender interface {
	SendToConversation(ctx context.Context, ref domain.ConversationReference, a *Activity) (string, error)
	ReplyToActivity(ctx context.Context, ref domain.ConversationReference, replyToID string, a *Activity) (string, error)
	UpdateActivity(ctx context.Context, ref domain.ConversationReference, activityID string, a *Activity) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	AppID       string // empty disables authentication
	AppPassword string
	TokenURL    string
	Scope       string
	HTTPClient  *http.Client // base transport; a 15s-timeout client when nil
}

// Client calls the Bot Connector REST API. Requests carry an app token from
// the client credentials flow; with no AppID (local emulator) they are sent
// unauthenticated.
type Client struct {
	http *http.Client
}

// NewClient returns a Client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.AppID == "" {
		return &Client{http: base}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     firstNonEmpty(cfg.TokenURL, defaultTokenURL),
		Scopes:       []string{firstNonEmpty(cfg.Scope, defaultScope)},
	}
	// Token requests go through base too. The context only carries the
	// client; it is never cancelled.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := cc.Client(ctx)
	hc.Timeout = base.Timeout
	return &Client{http: hc}
}

// firstNonEmpty returns v, or def when v is empty.
func firstNonEmpty(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// SendToConversation posts a into the conversation of ref and returns the
// id the channel assigned to it.
func (c *Client) SendToConversation(ctx context.Context, ref domain.ConversationReference, a *Activity) (string, error) {
	ApplyReference(a, ref)
	var out ResourceResponse
	err := c.do(ctx, http.MethodPost, activitiesURL(ref, ""), a, &out)
	return out.ID, err
}

// ReplyToActivity posts a as a reply to replyToID.
func (c *Client) ReplyToActivity(ctx context.Context, ref domain.ConversationReference, replyToID string, a *Activity) (string, error) {
	ApplyReference(a, ref)
	a.ReplyToID = replyToID
	var out ResourceResponse
	err := c.do(ctx, http.MethodPost, activitiesURL(ref, replyToID), a, &out)
	return out.ID, err
}

// UpdateActivity replaces a previously sent activity.
func (c *Client) UpdateActivity(ctx context.Context, ref domain.ConversationReference, activityID string, a *Activity) error {
	ApplyReference(a, ref)
	a.ID = activityID
	return c.do(ctx, http.MethodPut, activitiesURL(ref, activityID), a, nil)
}

// activitiesURL is {serviceUrl}/v3/conversations/{id}/activities[/{activityId}].
func activitiesURL(ref domain.ConversationReference, activityID string) string {
	u := strings.TrimRight(ref.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(ref.Conversation.ID) + "/activities"
	if activityID != "" {
		u += "/" + url.PathEscape(activityID)
	}
	return u
}

// do sends body as JSON and decodes a 2xx response into out when out is not
// nil. Other statuses yield ErrConnector with the start of the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	ctx, span := otel.Tracer("connector").Start(ctx, "connector."+method)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrConnector, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrConnector, method, endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	// an empty 2xx body leaves out untouched
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode response: %w", ErrConnector, err)
	}
	return nil
}
