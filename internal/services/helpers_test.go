package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/notify-bot/internal/connector"
	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/domain"
	"github.com/tbourn/notify-bot/internal/repo"
)

// ----- Shared fixtures -----

const (
	testTenant = "tenant-1"
	testConv   = "a:conv-1"
)

// newTestRepo provisions a repository on a private in-memory database and
// stores a reference for testConv.
func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
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
	r := repo.New(store, repo.Options{TenantID: testTenant, PageSize: 2})
	ctx := context.Background()
	if err := r.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	_, _, err = r.CreateConversationReference(ctx, domain.ConversationReference{
		Conversation: domain.ConversationAccount{ID: testConv, TenantID: testTenant},
		ChannelID:    connector.ChannelMSTeams,
		ServiceURL:   "https://smba.example/emea/",
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return r
}

// fakeSender records deliveries and fails them while err is set.
type fakeSender struct {
	mu   sync.Mutex
	sent []*connector.Activity
	refs []domain.ConversationReference
	err  error
}

func (f *fakeSender) SendToConversation(_ context.Context, ref domain.ConversationReference, a *connector.Activity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, a)
	f.refs = append(f.refs, ref)
	return fmt.Sprintf("act-%d", len(f.sent)), nil
}

func (f *fakeSender) ReplyToActivity(context.Context, domain.ConversationReference, string, *connector.Activity) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeSender) UpdateActivity(context.Context, domain.ConversationReference, string, *connector.Activity) error {
	return errors.New("not used")
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
