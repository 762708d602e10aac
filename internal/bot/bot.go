// Package bot handles the activities a chat channel delivers to the bot:
// conversation updates, messages (text commands and card submits) and
// task module fetches.
//
// Message commands, matched case-insensitively against the localized names:
//   - help: lists the commands along with the tenant and conversation ids
//   - portal: replies with a card linking to the task module
//   - flow <cmd> <url>: binds cmd to a Power Automate webhook
//   - any bound cmd: posts the message and conversation reference to its
//     webhook
//
// Every message or conversation update stores the conversation reference,
// which is what later lets the admin API post into that conversation.
//
// Replies are sent through a connector.Sender. A handler error does not
// surface to the channel as a failed request; it is logged and the user gets
// a generic error message (plus a trace activity on the emulator).
package bot

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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/notify-bot/internal/cards"
	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/repo"
)

const (
	// invokeTaskFetch is the only invoke the bot answers.
	invokeTaskFetch = "task/fetch"
	taskModuleSize  = "large"
	errorValueType  = "https://www.botframework.com/schemas/error"
)

var tracer = otel.Tracer("bot")

// Store is the persistence the bot needs. *repo.Repository implements it.
type Store interface {
	CreateConversationReference(ctx context.Context, ref domain.ConversationReference) (domain.ConversationReference, bool, error)
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	GetAcknowledgeItems(ctx context.Context, notificationID string) ([]domain.Acknowledgement, error)
	CreateAcknowledge(ctx context.Context, notificationID string, account domain.Account) (domain.Acknowledgement, bool, error)
	CreateInitiation(ctx context.Context, initiator, notificationID string) (domain.Initiation, error)
	CreateFlow(ctx context.Context, cmd, url string) (domain.Flow, error)
	GetFlow(ctx context.Context, cmd string) (domain.Flow, error)
}

// Options configures a Bot.
type Options struct {
	TenantID    string           // messages from any other tenant are refused
	Name        string           // bot name used in greetings
	TaskTitle   string           // task module window title
	TaskURL     string           // default task module page
	FlowTimeout time.Duration    // 10s when zero
	FlowClient  *http.Client     // used to call flow webhooks
	Now         func() time.Time // clock for trace activities
}

// Bot dispatches inbound activities.
type Bot struct {
	store   Store
	sender  connector.Sender
	catalog *Catalog // localized command names and replies
	opts    Options
}

// InvokeResponse is the synchronous answer to an invoke activity.
type InvokeResponse struct {
	Status int
	Body   any // marshalled as JSON; nil means an empty body
}

// TaskModuleResponse tells the client to open a task module.
type TaskModuleResponse struct {
	Task TaskModuleContinue `json:"task"`
}

// TaskModuleContinue carries the task module to open.
type TaskModuleContinue struct {
	Type  string         `json:"type"`
	Value TaskModuleInfo `json:"value"`
}

// TaskModuleInfo describes a task module window.
type TaskModuleInfo struct {
	Title       string `json:"title,omitempty"`
	Width       string `json:"width"`
	Height      string `json:"height"`
	URL         string `json:"url"`
	FallbackURL string `json:"fallbackUrl"`
}

// New returns a Bot.
func New(store Store, sender connector.Sender, catalog *Catalog, opts Options) *Bot {
	if opts.FlowTimeout <= 0 {
		opts.FlowTimeout = 10 * time.Second
	}
	if opts.FlowClient == nil {
		opts.FlowClient = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bot{store: store, sender: sender, catalog: catalog, opts: opts}
}

// turn is the state of one ProcessActivity call.
type turn struct {
	activity *connector.Activity
	ref      domain.ConversationReference // tenant filled in for the emulator
	loc      Localizer                    // picked from the activity locale
}

// ProcessActivity runs one turn. The returned response is non-nil only for
// invoke activities.
func (b *Bot) ProcessActivity(ctx context.Context, a *connector.Activity) *InvokeResponse {
	ctx, span := tracer.Start(ctx, "bot.turn")
	defer span.End()
	span.SetAttributes(attribute.String("activity.type", a.Type), attribute.String("channel", a.ChannelID))

	t := &turn{activity: a, ref: a.Reference(), loc: b.catalog.For(a.Locale)}
	// The emulator sends no tenant.
	if t.ref.Conversation.TenantID == "" {
		t.ref.Conversation.TenantID = b.opts.TenantID
	}

	var (
		resp *InvokeResponse
		err  error
	)
	switch a.Type {
	case connector.ActivityConversationUpdate:
		err = b.onConversationUpdate(ctx, t)
	case connector.ActivityMessage:
		err = b.onMessage(ctx, t)
	case connector.ActivityInvoke:
		// Teams shows an error for an unanswered invoke, so every other
		// invoke gets an explicit 501.
		if a.Name != invokeTaskFetch {
			return &InvokeResponse{Status: http.StatusNotImplemented}
		}
		resp, err = b.onTaskFetch(ctx, t)
	}
	if err != nil {
		span.RecordError(err)
		b.onTurnError(ctx, t, err)
		if a.Type == connector.ActivityInvoke {
			return &InvokeResponse{Status: http.StatusInternalServerError}
		}
		return nil
	}
	return resp
}

// send replies in thread when the inbound activity has an id and posts to
// the conversation otherwise.
func (b *Bot) send(ctx context.Context, t *turn, out *connector.Activity) error {
	var err error
	if t.activity.ID != "" {
		_, err = b.sender.ReplyToActivity(ctx, t.ref, t.activity.ID, out)
	} else {
		_, err = b.sender.SendToConversation(ctx, t.ref, out)
	}
	return err
}

// sendText sends a plain text reply.
func (b *Bot) sendText(ctx context.Context, t *turn, text string) error {
	return b.send(ctx, t, connector.MessageActivity(text))
}

// onConversationUpdate stores the reference and greets members the bot
// itself was added with: one member by name, several at once.
func (b *Bot) onConversationUpdate(ctx context.Context, t *turn) error {
	if _, _, err := b.store.CreateConversationReference(ctx, t.ref); err != nil {
		return err
	}
	a := t.activity
	if a.ChannelID != connector.ChannelMSTeams {
		return nil
	}

	// The bot is listed among the added members when it joins; skip it.
	var members []domain.Account
	for _, m := range a.MembersAdded {
		if a.Recipient == nil || m.ID != a.Recipient.ID {
			members = append(members, m)
		}
	}
	cmdHelp := t.loc.T("cmd_help")
	switch {
	case len(members) == 1:
		return b.sendText(ctx, t, t.loc.T("hi_message",
			"name", members[0].Name, "bot_name", b.opts.Name, "cmd_help", cmdHelp))
	case len(members) > 1:
		return b.sendText(ctx, t, t.loc.T("greetings_message",
			"bot_name", b.opts.Name, "cmd_help", cmdHelp))
	}
	return nil
}

// onMessage refuses other tenants before anything is stored. A non-null
// Value is a card submit and takes precedence over the text.
func (b *Bot) onMessage(ctx context.Context, t *turn) error {
	a := t.activity
	if a.TenantID() != b.opts.TenantID {
		return b.sendText(ctx, t, t.loc.T("tenant_forbidden"))
	}

	ref, _, err := b.store.CreateConversationReference(ctx, t.ref)
	if err != nil {
		return err
	}

	if len(a.Value) > 0 && !bytes.Equal(a.Value, []byte("null")) {
		return b.onSubmit(ctx, t, DecodeSubmit(a.Value))
	}

	// Commands are localized and matched case-insensitively.
	message := strings.ToLower(strings.TrimSpace(a.Text))
	cmdHelp := t.loc.T("cmd_help")
	cmdPortal := t.loc.T("cmd_portal")

	switch {
	case message == strings.ToLower(cmdHelp):
		return b.sendText(ctx, t, t.loc.T("response_help",
			"cmd_portal", cmdPortal, "cmd_help", cmdHelp,
			"tenant_id", a.TenantID(), "conversation_id", t.ref.Conversation.ID))

	case message == strings.ToLower(cmdPortal):
		card, err := cards.Portal(t.loc.T("portal_text"), t.loc.T("portal_button_text"))
		if err != nil {
			return err
		}
		return b.send(ctx, t, connector.CardActivity(card))

	case strings.HasPrefix(message, "flow"):
		// The command keeps the case of the original text.
		params := strings.Fields(a.Text)
		if len(params) != 3 {
			return b.sendText(ctx, t, t.loc.T("flow_syntax"))
		}
		if _, err := b.store.CreateFlow(ctx, params[1], params[2]); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("cmd", params[1]).Msg("save flow")
			return b.sendText(ctx, t, t.loc.T("flow_error"))
		}
		return b.sendText(ctx, t, t.loc.T("flow_saved"))
	}

	if b.runFlow(ctx, ref, message) {
		return nil
	}
	return b.sendText(ctx, t, t.loc.T("response_unknown_cmd", "cmd_help", cmdHelp))
}

// flowRequest is the JSON body posted to a flow webhook.
type flowRequest struct {
	Reference domain.ConversationReference `json:"reference"`
	Message   string                       `json:"message"`
}

// runFlow hands message to the webhook bound to it. It reports whether a
// flow was found and called; the webhook's status code is only logged.
func (b *Bot) runFlow(ctx context.Context, ref domain.ConversationReference, message string) bool {
	lg := zerolog.Ctx(ctx)
	flow, err := b.store.GetFlow(ctx, message)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			lg.Error().Err(err).Msg("get flow")
		}
		return false
	}

	payload, err := json.Marshal(flowRequest{Reference: ref, Message: message})
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.FlowTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, flow.URL, bytes.NewReader(payload))
	if err != nil {
		lg.Error().Err(err).Str("cmd", flow.Cmd).Msg("build flow request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.opts.FlowClient.Do(req)
	if err != nil {
		lg.Error().Err(err).Str("cmd", flow.Cmd).Msg("call flow")
		return false
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	lg.Info().Str("cmd", flow.Cmd).Int("status", resp.StatusCode).Msg("flow called")
	return true
}

// onSubmit handles card buttons posted as messages. Only Acknowledge is
// meaningful here; the task actions arrive as task/fetch invokes.
func (b *Bot) onSubmit(ctx context.Context, t *turn, action Action) error {
	switch act := action.(type) {
	case AcknowledgeAction:
		return b.acknowledge(ctx, t, act.NotificationID)
	case TaskNotificationAction, TaskDefaultAction, UnknownAction:
		return b.sendText(ctx, t, t.loc.T("unknown_request"))
	default:
		panic(fmt.Sprintf("bot: unhandled action %T", action))
	}
}

// acknowledge records the first acknowledgement of a notification and
// rewrites its card. Later or losing acknowledgements change nothing.
func (b *Bot) acknowledge(ctx context.Context, t *turn, notificationID string) error {
	acks, err := b.store.GetAcknowledgeItems(ctx, notificationID)
	if err != nil {
		return err
	}
	if len(acks) > 0 {
		return nil // already acknowledged
	}

	// A button on a card whose notification is gone is ignored.
	n, err := b.store.GetNotification(ctx, notificationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var from domain.Account
	if t.activity.From != nil {
		from = *t.activity.From
	}
	// Two users can pass the check above at once; the store keeps one.
	_, created, err := b.store.CreateAcknowledge(ctx, notificationID, from)
	if err != nil || !created {
		return err
	}

	// ReplyToID is the activity of the card the button was pressed on.
	card := cards.Notification(n, displayName(from))
	return b.sender.UpdateActivity(ctx, t.ref, t.activity.ReplyToID, connector.CardActivity(card))
}

// onTaskFetch records who opened a notification and answers with a task
// module showing its link. Anything else, including an unknown
// notification or one without a link, opens the default task URL.
func (b *Bot) onTaskFetch(ctx context.Context, t *turn) (*InvokeResponse, error) {
	switch act := DecodeTaskFetch(t.activity.Value).(type) {
	case TaskNotificationAction:
		var from domain.Account
		if t.activity.From != nil {
			from = *t.activity.From
		}
		if _, err := b.store.CreateInitiation(ctx, displayName(from), act.NotificationID); err != nil {
			return nil, err
		}
		n, err := b.store.GetNotification(ctx, act.NotificationID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			zerolog.Ctx(ctx).Warn().Str("notification_id", act.NotificationID).Msg("task fetch for unknown notification")
		case err != nil:
			return nil, err
		case n.Link() != "":
			return b.taskModule(n.Link()), nil
		}
	case AcknowledgeAction, TaskDefaultAction, UnknownAction:
		// default task module
	}
	return b.taskModule(b.defaultTaskURL(t.ref.Conversation.ID)), nil
}

// taskModule opens link in a large task module window.
func (b *Bot) taskModule(link string) *InvokeResponse {
	return &InvokeResponse{
		Status: http.StatusOK,
		Body: TaskModuleResponse{Task: TaskModuleContinue{
			Type: "continue",
			Value: TaskModuleInfo{
				Title:       b.opts.TaskTitle,
				Width:       taskModuleSize,
				Height:      taskModuleSize,
				URL:         link,
				FallbackURL: link,
			},
		}},
	}
}

// defaultTaskURL adds the conversation id to the configured task module URL
// as the channelId query parameter.
func (b *Bot) defaultTaskURL(conversationID string) string {
	u, err := url.Parse(b.opts.TaskURL)
	if err != nil {
		return b.opts.TaskURL
	}
	q := u.Query()
	q.Set("channelId", conversationID)
	u.RawQuery = q.Encode()
	return u.String()
}

// onTurnError logs err and tells the user something went wrong. On the
// emulator it also sends a trace activity carrying the error text.
func (b *Bot) onTurnError(ctx context.Context, t *turn, err error) {
	a := t.activity
	zerolog.Ctx(ctx).Error().Err(err).
		Str("activity_id", a.ID).
		Str("channel", a.ChannelID).
		Str("conversation_id", t.ref.Conversation.ID).
		Msg("unhandled turn error")

	if serr := b.sendText(ctx, t, t.loc.T("turn_error")); serr != nil {
		zerolog.Ctx(ctx).Error().Err(serr).Msg("send turn error message")
	}
	if a.ChannelID != connector.ChannelEmulator {
		return
	}
	// The emulator renders the trace value as a JSON string.
	value, _ := json.Marshal(err.Error())
	trace := &connector.Activity{
		Type:      connector.ActivityTrace,
		Name:      "TurnError Trace",
		Label:     "TurnError",
		Timestamp: b.opts.Now().UTC().Format(time.RFC3339Nano),
		Value:     value,
		ValueType: errorValueType,
	}
	if serr := b.send(ctx, t, trace); serr != nil {
		zerolog.Ctx(ctx).Error().Err(serr).Msg("send turn error trace")
	}
}

// displayName prefers the account's display name over its channel id.
func displayName(a domain.Account) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
