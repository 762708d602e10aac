package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/notify-bot/internal/cards"
	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/repo"
)

const (
	testTenant = "tenant-1"
	testConv   = "a:conv-1"
)

// ---------- test helpers ----------

// sent is one outbound call captured by fakeSender.
type sent struct {
	kind     string // send, reply or update
	targetID string
	activity connector.Activity
}

// fakeSender records every activity instead of calling the connector.
type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) record(kind, id string, a *connector.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind: kind, targetID: id, activity: *a})
}

func (f *fakeSender) SendToConversation(_ context.Context, _ domain.ConversationReference, a *connector.Activity) (string, error) {
	f.record("send", "", a)
	return "out-1", nil
}

func (f *fakeSender) ReplyToActivity(_ context.Context, _ domain.ConversationReference, replyToID string, a *connector.Activity) (string, error) {
	f.record("reply", replyToID, a)
	return "out-1", nil
}

func (f *fakeSender) UpdateActivity(_ context.Context, _ domain.ConversationReference, activityID string, a *connector.Activity) error {
	f.record("update", activityID, a)
	return nil
}

// all returns a copy, safe to inspect while turns are still running.
func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

// texts keeps only the activities that carry text, in send order.
func (f *fakeSender) texts() []string {
	var out []string
	for _, s := range f.all() {
		if s.activity.Text != "" {
			out = append(out, s.activity.Text)
		}
	}
	return out
}

// fixture bundles a bot with the repository and sender behind it.
type fixture struct {
	bot    *Bot
	repo   *repo.Repository
	sender *fakeSender
}

// newRepo provisions a repository on a private in-memory database. One open
// connection keeps the shared-cache database alive for the whole test.
func newRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	store, err := docstore.New(db, docstore.WithRetryDelay(0))
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	r := repo.New(store, repo.Options{TenantID: testTenant})
	if err := r.Provision(context.Background()); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return r
}

// newFixture builds a bot with a fixed clock and the embedded catalog.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	r := newRepo(t)
	s := &fakeSender{}
	b := New(r, s, catalog, Options{
		TenantID:  testTenant,
		Name:      "Notify",
		TaskTitle: "Notifications",
		TaskURL:   "https://portal.example/tasks?view=all",
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
	return &fixture{bot: b, repo: r, sender: s}
}

// activity is a Teams activity from Ann in testConv, addressed to the bot.
func activity(typ string) *connector.Activity {
	return &connector.Activity{
		Type:         typ,
		ID:           "in-1",
		ChannelID:    connector.ChannelMSTeams,
		ServiceURL:   "https://smba.example/emea/",
		From:         &domain.Account{ID: "29:ann", Name: "Ann", AADObjectID: "aad-ann"},
		Recipient:    &domain.Account{ID: "28:bot", Name: "Notify"},
		Conversation: &domain.ConversationAccount{ID: testConv, TenantID: testTenant},
	}
}

// message is a Teams text message from Ann.
func message(text string) *connector.Activity {
	a := activity(connector.ActivityMessage)
	a.Text = text
	return a
}

// ---------- conversationUpdate ----------

func TestConversationUpdate_GreetsSingleMember(t *testing.T) {
	f := newFixture(t)
	a := activity(connector.ActivityConversationUpdate)
	// The bot itself is listed too and must not be greeted.
	a.MembersAdded = []domain.Account{{ID: "28:bot"}, {ID: "29:ann", Name: "Ann"}}

	if resp := f.bot.ProcessActivity(context.Background(), a); resp != nil {
		t.Fatalf("unexpected invoke response %+v", resp)
	}

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Hi Ann!") || !strings.Contains(texts[0], "Notify") {
		t.Fatalf("greeting = %v", texts)
	}
	// The reference is stored for later proactive messages.
	if _, err := f.repo.GetConversation(context.Background(), testConv, testTenant); err != nil {
		t.Fatalf("reference not saved: %v", err)
	}
}

func TestConversationUpdate_GreetsGroup(t *testing.T) {
	f := newFixture(t)
	a := activity(connector.ActivityConversationUpdate)
	a.MembersAdded = []domain.Account{{ID: "29:a"}, {ID: "29:b"}}

	f.bot.ProcessActivity(context.Background(), a)

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "Hi everyone!") {
		t.Fatalf("greeting = %v", texts)
	}
}

func TestConversationUpdate_BotOnlyNoGreeting(t *testing.T) {
	f := newFixture(t)
	a := activity(connector.ActivityConversationUpdate)
	a.MembersAdded = []domain.Account{{ID: "28:bot"}}

	f.bot.ProcessActivity(context.Background(), a)

	if got := f.sender.all(); len(got) != 0 {
		t.Fatalf("expected no messages, got %+v", got)
	}
}

// ---------- message commands ----------

// Messages from another tenant are answered but nothing is stored.
func TestMessage_ForeignTenantForbidden(t *testing.T) {
	f := newFixture(t)
	a := message("help")
	a.Conversation.TenantID = "other"

	f.bot.ProcessActivity(context.Background(), a)

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "not available for your organization") {
		t.Fatalf("texts = %v", texts)
	}
	if _, err := f.repo.GetConversation(context.Background(), testConv, "other"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign reference must not be saved, err=%v", err)
	}
}

func TestMessage_Help(t *testing.T) {
	f := newFixture(t)
	// Commands are trimmed and matched case-insensitively.
	f.bot.ProcessActivity(context.Background(), message("  HELP "))

	got := f.sender.all()
	if len(got) != 1 || got[0].kind != "reply" || got[0].targetID != "in-1" {
		t.Fatalf("sent = %+v", got)
	}
	text := got[0].activity.Text
	for _, want := range []string{"Tenant: " + testTenant, "Conversation: " + testConv, "portal"} {
		if !strings.Contains(text, want) {
			t.Fatalf("help text %q missing %q", text, want)
		}
	}
}

func TestMessage_HelpInRussian(t *testing.T) {
	f := newFixture(t)
	a := message("помощь")
	a.Locale = "ru-RU"

	f.bot.ProcessActivity(context.Background(), a)

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "Доступные команды") {
		t.Fatalf("texts = %v", texts)
	}
}

func TestMessage_PortalCard(t *testing.T) {
	f := newFixture(t)
	f.bot.ProcessActivity(context.Background(), message("portal"))

	got := f.sender.all()
	if len(got) != 1 || len(got[0].activity.Attachments) != 1 {
		t.Fatalf("sent = %+v", got)
	}
	// the fake keeps the card as built, not as JSON
	card, ok := got[0].activity.Attachments[0].Content.(cards.Card)
	if !ok {
		t.Fatalf("content is %T", got[0].activity.Attachments[0].Content)
	}
	if card.Body[1].Items[0].Actions[0].Title != "Open Portal" {
		t.Fatalf("button = %+v", card.Body[1].Items[0].Actions[0])
	}
}

// Flow commands are stored lowercased, looked up case-insensitively, and
// cannot be rebound.
func TestMessage_FlowCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// save, rebind (refused), missing url
	f.bot.ProcessActivity(ctx, message("flow Deploy https://hooks.example/deploy"))
	f.bot.ProcessActivity(ctx, message("flow deploy https://hooks.example/other"))
	f.bot.ProcessActivity(ctx, message("flow deploy"))

	texts := f.sender.texts()
	if len(texts) != 3 {
		t.Fatalf("texts = %v", texts)
	}
	if texts[0] != "Flow cmd saved" || texts[1] != "Error saving flow cmd" || !strings.HasPrefix(texts[2], "Incorrect syntax") {
		t.Fatalf("texts = %v", texts)
	}
	// the first binding survives the refused rebind
	flow, err := f.repo.GetFlow(ctx, "DEPLOY")
	if err != nil || flow.URL != "https://hooks.example/deploy" {
		t.Fatalf("GetFlow = %+v, %v", flow, err)
	}
}

// A bound command posts the lowercased message and the reference to the
// webhook and sends no reply.
func TestMessage_KnownFlowIsCalled(t *testing.T) {
	f := newFixture(t)
	got := make(chan flowRequest, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req flowRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	ctx := context.Background()
	if _, err := f.repo.CreateFlow(ctx, "deploy", hook.URL); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	f.bot.ProcessActivity(ctx, message("Deploy"))

	// The call is synchronous, so the request has already arrived.
	select {
	case req := <-got:
		if req.Message != "deploy" || req.Reference.Conversation.ID != testConv || req.Reference.ServiceURL == "" {
			t.Fatalf("flow request = %+v", req)
		}
	default:
		t.Fatalf("flow webhook not called")
	}
	if texts := f.sender.texts(); len(texts) != 0 {
		t.Fatalf("expected no reply, got %v", texts)
	}
}

func TestMessage_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.bot.ProcessActivity(context.Background(), message("what"))

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "don't know this command") {
		t.Fatalf("texts = %v", texts)
	}
}

// ---------- card submits ----------

// submit is an Acknowledge button press on the card with activity id card-1.
func submit(notificationID string) *connector.Activity {
	a := message("")
	a.ReplyToID = "card-1"
	a.Value = json.RawMessage(fmt.Sprintf(`{"mx":{"type":"acknowledge","notificationId":%q}}`, notificationID))
	return a
}

func TestSubmit_AcknowledgeUpdatesCardOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.repo.CreateNotification(ctx, domain.Notification{Destination: testConv, Message: "hi", Acknowledge: true})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	// The second press finds the acknowledgement and changes nothing.
	f.bot.ProcessActivity(ctx, submit(n.ID))
	f.bot.ProcessActivity(ctx, submit(n.ID))

	got := f.sender.all()
	if len(got) != 1 || got[0].kind != "update" || got[0].targetID != "card-1" {
		t.Fatalf("sent = %+v", got)
	}
	card := got[0].activity.Attachments[0].Content.(cards.Card)
	last := card.Body[len(card.Body)-1]
	if last.Facts[0].Title != "Acknowledged:" || last.Facts[0].Value != "Ann" {
		t.Fatalf("last element = %+v", last)
	}

	// exactly one record, from the first press
	acks, err := f.repo.GetAcknowledgeItems(ctx, n.ID)
	if err != nil || len(acks) != 1 || acks[0].Username != "Ann" {
		t.Fatalf("acks = %+v, %v", acks, err)
	}
}

func TestSubmit_UnknownNotificationIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.bot.ProcessActivity(context.Background(), submit("missing"))

	if got := f.sender.all(); len(got) != 0 {
		t.Fatalf("sent = %+v", got)
	}
	acks, err := f.repo.GetAcknowledgeItems(context.Background(), "missing")
	if err != nil || len(acks) != 0 {
		t.Fatalf("acks = %+v, %v", acks, err)
	}
}

func TestSubmit_UnknownAction(t *testing.T) {
	f := newFixture(t)
	a := message("")
	a.Value = json.RawMessage(`{"mx":{"type":"something"}}`)

	f.bot.ProcessActivity(context.Background(), a)

	texts := f.sender.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "can't handle this request") {
		t.Fatalf("texts = %v", texts)
	}
}

// ---------- task/fetch ----------

// taskFetch wraps data as the value of a task/fetch invoke.
func taskFetch(data string) *connector.Activity {
	a := activity(connector.ActivityInvoke)
	a.Name = "task/fetch"
	a.Value = json.RawMessage(`{"data":` + data + `}`)
	return a
}

// taskInfo asserts a 200 "continue" response and returns its task module.
func taskInfo(t *testing.T, resp *InvokeResponse) TaskModuleInfo {
	t.Helper()
	if resp == nil || resp.Status != http.StatusOK {
		t.Fatalf("resp = %+v", resp)
	}
	body, ok := resp.Body.(TaskModuleResponse)
	if !ok || body.Task.Type != "continue" {
		t.Fatalf("body = %+v", resp.Body)
	}
	return body.Task.Value
}

func TestTaskFetch_NotificationLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.repo.CreateNotification(ctx, domain.Notification{
		Destination: testConv,
		URL:         &domain.NotificationURL{Link: "https://portal.example/n"},
	})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	info := taskInfo(t, f.bot.ProcessActivity(ctx, taskFetch(fmt.Sprintf(`{"mx":{"type":"task/notification","notificationId":%q}}`, n.ID))))

	if info.URL != "https://portal.example/n" || info.FallbackURL != info.URL || info.Title != "Notifications" || info.Width != "large" {
		t.Fatalf("info = %+v", info)
	}
	// Opening the task module is audited.
	items, _, err := f.repo.GetInitiationItems(ctx, n.ID, "")
	if err != nil || len(items) != 1 || items[0].Initiator != "Ann" {
		t.Fatalf("initiations = %+v, %v", items, err)
	}
}

func TestTaskFetch_DefaultURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noLink, err := f.repo.CreateNotification(ctx, domain.Notification{Destination: testConv})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	cases := map[string]string{
		"default":      `{"mx":{"type":"task/default"}}`,
		"no mx":        `{}`,
		"missing link": fmt.Sprintf(`{"mx":{"type":"task/notification","notificationId":%q}}`, noLink.ID),
		"unknown id":   `{"mx":{"type":"task/notification","notificationId":"missing"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			info := taskInfo(t, f.bot.ProcessActivity(ctx, taskFetch(data)))
			u, err := url.Parse(info.URL)
			if err != nil {
				t.Fatalf("parse %q: %v", info.URL, err)
			}
			// The configured query is kept and channelId is added.
			if u.Query().Get("channelId") != testConv || u.Query().Get("view") != "all" || u.Host != "portal.example" {
				t.Fatalf("url = %q", info.URL)
			}
		})
	}
}

// Invokes other than task/fetch get an explicit 501.
func TestInvoke_OtherNameNotImplemented(t *testing.T) {
	f := newFixture(t)
	a := activity(connector.ActivityInvoke)
	a.Name = "composeExtension/query"

	resp := f.bot.ProcessActivity(context.Background(), a)
	if resp == nil || resp.Status != http.StatusNotImplemented {
		t.Fatalf("resp = %+v", resp)
	}
}

// ---------- turn errors ----------

// failingStore fails the first store call of every turn.
type failingStore struct {
	*repo.Repository
}

func (failingStore) CreateConversationReference(context.Context, domain.ConversationReference) (domain.ConversationReference, bool, error) {
	return domain.ConversationReference{}, false, errors.New("store down")
}

// On the emulator a turn error produces the apology and a trace activity.
func TestTurnError_EmulatorGetsTrace(t *testing.T) {
	f := newFixture(t)
	b := New(failingStore{f.repo}, f.sender, f.bot.catalog, f.bot.opts)
	a := message("help")
	a.ChannelID = connector.ChannelEmulator

	b.ProcessActivity(context.Background(), a)

	got := f.sender.all()
	// apology, then trace
	if len(got) != 2 {
		t.Fatalf("sent = %+v", got)
	}
	if !strings.HasPrefix(got[0].activity.Text, "The bot encountered an error") {
		t.Fatalf("first = %+v", got[0].activity)
	}
	trace := got[1].activity
	if trace.Type != connector.ActivityTrace || trace.Label != "TurnError" || trace.ValueType != errorValueType {
		t.Fatalf("trace = %+v", trace)
	}
	if string(trace.Value) != `"store down"` {
		t.Fatalf("trace value = %s", trace.Value)
	}
}

func TestTurnError_NonInvokeReturnsNil(t *testing.T) {
	f := newFixture(t)
	b := New(failingStore{f.repo}, f.sender, f.bot.catalog, f.bot.opts)
	a := activity(connector.ActivityConversationUpdate)

	if resp := b.ProcessActivity(context.Background(), a); resp != nil {
		t.Fatalf("non-invoke turn returned %+v", resp)
	}
	if got := f.sender.all(); len(got) != 1 {
		t.Fatalf("expected only the error message on msteams, got %+v", got)
	}
}
