// Package repo implements typed persistence for the bot's records on top of
// the partitioned document store.
//
// Every record kind lives in its own container with a fixed partition key
// path (see Containers). Lookups are always partition-scoped: callers pass
// the partition key value along with the id, or the accessor derives it
// (the configured tenant for notifications and flows, the notification id for
// acknowledgements and initiations).
//
// Error semantics:
//   - Missing records return an error wrapping ErrNotFound
//     (docstore.ErrItemNotFound).
//   - Conflicts on create are resolved per record kind; see the individual
//     functions.
//   - Other store failures are propagated wrapped.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/notify-bot/internal/docstore"
)

// Container names.
const (
	ConversationsContainer = "conversations"
	NotificationsContainer = "notifications"
	AcknowledgesContainer  = "acknowledges"
	InitiationsContainer   = "initiations"
	FlowsContainer         = "flows"
	IdempotencyContainer   = "idempotency"
)

// Containers maps each container to its partition key path.
var Containers = map[string]string{
	ConversationsContainer: "/conversation/tenantId",
	NotificationsContainer: "/tenantId",
	AcknowledgesContainer:  "/notificationId",
	InitiationsContainer:   "/notificationId",
	FlowsContainer:         "/tenantId",
	IdempotencyContainer:   "/scope",
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = docstore.ErrItemNotFound

// ErrTenantRequired is returned by Provision when no tenant is configured.
var ErrTenantRequired = errors.New("repo: tenant id is required")

// Options configures a Repository.
type Options struct {
	Database string           // document database name; "bot" when empty
	TenantID string           // tenant stamped on notifications and flows; required
	MaxTries int              // create attempts per record; 3 when < 1
	PageSize int              // initiation page size; docstore.DefaultPageSize when < 1
	Now      func() time.Time // clock; time.Now when nil
}

// Repository gives typed access to the bot's containers.
type Repository struct {
	store    *docstore.Store
	database string
	tenantID string
	maxTries int
	pageSize int
	now      func() time.Time
}

// New returns a Repository over store. Call Provision before first use.
func New(store *docstore.Store, opts Options) *Repository {
	r := &Repository{
		store:    store,
		database: strings.TrimSpace(opts.Database),
		tenantID: opts.TenantID,
		maxTries: opts.MaxTries,
		pageSize: opts.PageSize,
		now:      opts.Now,
	}
	if r.database == "" {
		r.database = "bot"
	}
	if r.maxTries < 1 {
		r.maxTries = 3
	}
	if r.pageSize < 1 {
		r.pageSize = docstore.DefaultPageSize
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// TenantID returns the tenant the repository stamps on new records.
func (r *Repository) TenantID() string { return r.tenantID }

// Provision creates the database and every container if they do not exist.
func (r *Repository) Provision(ctx context.Context) error {
	if strings.TrimSpace(r.tenantID) == "" {
		return ErrTenantRequired
	}
	if err := r.store.EnsureDatabase(ctx, r.database); err != nil {
		return err
	}
	for name, path := range Containers {
		if _, err := r.store.EnsureContainer(ctx, r.database, name, path); err != nil {
			return fmt.Errorf("provision %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks the store connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// container resolves a container of the configured database. Containers are
// cached by the store after the first lookup.
func (r *Repository) container(ctx context.Context, name string) (*docstore.Container, error) {
	return r.store.Container(ctx, r.database, name)
}

// timestamp is the current time in Unix milliseconds.
func (r *Repository) timestamp() int64 {
	return r.now().UnixMilli()
}
