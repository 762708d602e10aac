package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
)

const testTenant = "tenant-1"

func newTestRepo(t *testing.T, opts Options) *Repository {
	t.Helper()
	// Unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", t.Name(), uuid.NewString())
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
	if opts.TenantID == "" {
		opts.TenantID = testTenant
	}
	r := New(store, opts)
	if err := r.Provision(context.Background()); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return r
}

// Provisioning twice is harmless and leaves every container reachable.
func TestProvision_Idempotent(t *testing.T) {
	r := newTestRepo(t, Options{})
	if err := r.Provision(context.Background()); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	for name := range Containers {
		if _, err := r.container(context.Background(), name); err != nil {
			t.Fatalf("container %s: %v", name, err)
		}
	}
}

func TestProvision_RequiresTenant(t *testing.T) {
	r := newTestRepo(t, Options{})
	for _, tenant := range []string{"", "  "} {
		if err := New(r.store, Options{TenantID: tenant}).Provision(context.Background()); !errors.Is(err, ErrTenantRequired) {
			t.Fatalf("tenant %q: want ErrTenantRequired, got %v", tenant, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(nil, Options{})
	if r.database != "bot" || r.maxTries != 3 || r.pageSize != docstore.DefaultPageSize || r.now == nil {
		t.Fatalf("unexpected defaults: %+v", r)
	}
}

// A stored reference is never overwritten by a later activity.
func TestConversationReference_ExistingIsAuthoritative(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	ref := domain.ConversationReference{
		Conversation: domain.ConversationAccount{ID: "a:1", TenantID: testTenant},
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example/emea/",
		Bot:          &domain.Account{ID: "28:bot", Name: "Notify"},
	}
	got, created, err := r.CreateConversationReference(ctx, ref)
	if err != nil || !created || got.ID != "a:1" {
		t.Fatalf("first create: got=%+v created=%v err=%v", got, created, err)
	}

	changed := ref
	changed.ServiceURL = "https://smba.example/amer/"
	got, created, err = r.CreateConversationReference(ctx, changed)
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
	if got.ServiceURL != ref.ServiceURL {
		t.Fatalf("stored reference should win, got %q", got.ServiceURL)
	}

	loaded, err := r.GetConversation(ctx, "a:1", "")
	if err != nil || loaded.Bot == nil || loaded.Bot.Name != "Notify" {
		t.Fatalf("GetConversation: %+v %v", loaded, err)
	}
	if _, err := r.GetConversation(ctx, "a:1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant: want ErrNotFound, got %v", err)
	}
}

func TestConversationReference_RequiresTenant(t *testing.T) {
	r := newTestRepo(t, Options{})
	_, _, err := r.CreateConversationReference(context.Background(), domain.ConversationReference{
		Conversation: domain.ConversationAccount{ID: "a:1"},
	})
	if !errors.Is(err, docstore.ErrMissingPartitionKey) {
		t.Fatalf("want ErrMissingPartitionKey, got %v", err)
	}
}

// Caller supplied id, tenant and timestamp are replaced.
func TestCreateNotification_ServerAssignedFields(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	r := newTestRepo(t, Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	n, err := r.CreateNotification(ctx, domain.Notification{
		ID:          "client-id",
		TenantID:    "spoofed",
		Timestamp:   1,
		Destination: "a:1",
		Message:     "hello",
	})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if n.ID == "client-id" || n.TenantID != testTenant || n.Timestamp != fixed.UnixMilli() {
		t.Fatalf("server fields not assigned: %+v", n)
	}

	got, err := r.GetNotification(ctx, n.ID)
	if err != nil || got.Message != "hello" || got.Destination != "a:1" {
		t.Fatalf("GetNotification: %+v %v", got, err)
	}
	if _, err := r.GetNotification(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// A second acknowledgement returns the stored one untouched.
func TestCreateAcknowledge_FirstWriterWins(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	first, created, err := r.CreateAcknowledge(ctx, "n1", domain.Account{Name: "Alice", AADObjectID: "aad-a"})
	if err != nil || !created {
		t.Fatalf("first ack: created=%v err=%v", created, err)
	}
	second, created, err := r.CreateAcknowledge(ctx, "n1", domain.Account{Name: "Bob"})
	if err != nil || created {
		t.Fatalf("second ack: created=%v err=%v", created, err)
	}
	if second.Username != "Alice" || second.Timestamp != first.Timestamp {
		t.Fatalf("second ack should return the stored record, got %+v", second)
	}

	items, err := r.GetAcknowledgeItems(ctx, "n1")
	if err != nil || len(items) != 1 || items[0].UserAADID != "aad-a" {
		t.Fatalf("GetAcknowledgeItems: %+v %v", items, err)
	}
	// never acknowledged
	items, err = r.GetAcknowledgeItems(ctx, "n2")
	if err != nil || len(items) != 0 {
		t.Fatalf("unacknowledged: %+v %v", items, err)
	}
}

// Concurrent acknowledgements of one notification store exactly one.
func TestCreateAcknowledge_ConcurrentExactlyOne(t *testing.T) {
	r := newTestRepo(t, Options{MaxTries: 2})
	ctx := context.Background()

	const users = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			_, created, err := r.CreateAcknowledge(ctx, "n1", domain.Account{Name: name})
			if err != nil {
				t.Errorf("%s: %v", name, err)
				return
			}
			if created {
				mu.Lock()
				winners = append(winners, name)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("want exactly one winner, got %v", winners)
	}
	items, err := r.GetAcknowledgeItems(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Username != winners[0] {
		t.Fatalf("want single record by %s, got %+v", winners[0], items)
	}
}

// Initiations come back in insertion order across pages.
func TestInitiations_Paging(t *testing.T) {
	r := newTestRepo(t, Options{PageSize: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := r.CreateInitiation(ctx, fmt.Sprintf("user-%d", i), "n1"); err != nil {
			t.Fatalf("CreateInitiation: %v", err)
		}
	}
	if _, err := r.CreateInitiation(ctx, "someone", "n2"); err != nil {
		t.Fatal(err)
	}

	var (
		all   []string
		token string
	)
	for {
		items, next, err := r.GetInitiationItems(ctx, "n1", token)
		if err != nil {
			t.Fatalf("GetInitiationItems: %v", err)
		}
		for _, in := range items {
			if in.ID == "" || in.NotificationID != "n1" {
				t.Fatalf("bad initiation %+v", in)
			}
			all = append(all, in.Initiator)
		}
		if next == "" {
			break
		}
		token = next
	}
	if len(all) != 5 {
		t.Fatalf("want 5 initiators, got %v", all)
	}
	for i, who := range all {
		if who != fmt.Sprintf("user-%d", i) {
			t.Fatalf("order mismatch: %v", all)
		}
	}

	if _, _, err := r.GetInitiationItems(ctx, "n1", "garbage"); !errors.Is(err, docstore.ErrInvalidContinuation) {
		t.Fatalf("want ErrInvalidContinuation, got %v", err)
	}
}

// Commands are case-insensitive and bind once.
func TestFlows(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	if _, err := r.CreateFlow(ctx, "Deploy", "https://hooks.example/deploy"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	f, err := r.GetFlow(ctx, "deploy")
	if err != nil || f.URL != "https://hooks.example/deploy" || f.TenantID != testTenant {
		t.Fatalf("GetFlow: %+v %v", f, err)
	}
	if _, err := r.CreateFlow(ctx, "deploy", "https://hooks.example/other"); !errors.Is(err, docstore.ErrItemExists) {
		t.Fatalf("rebinding: want ErrItemExists, got %v", err)
	}
	if _, err := r.GetFlow(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
