// Package docstore: Store and provisioning.
//
// A Store owns the GORM handle and a cache of resolved containers.
// Databases and containers are rows in store_databases and store_containers;
// provisioning inserts them and treats a unique-key violation as "already
// there", so several processes can provision the same store at startup.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/jsonpointer"
	"gorm.io/gorm"
)

// Store is a partitioned document store backed by a GORM handle. It is safe
// for concurrent use; resolved containers are cached in memory.
type Store struct {
	db         *gorm.DB
	now        func() time.Time
	retryDelay time.Duration // base pause between conflicting creates

	mu         sync.RWMutex
	containers map[containerKey]*Container // definitions never change once provisioned
}

// containerKey indexes the container cache.
type containerKey struct{ database, name string }

// Option customizes a Store.
type Option func(*Store)

// WithRetryDelay sets the pause between conflicting create attempts. The
// pause grows linearly with the attempt number; zero disables it.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

// New migrates the store tables on db and returns a Store.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	s := &Store{
		db:         db,
		now:        time.Now,
		retryDelay: 10 * time.Millisecond,
		containers: make(map[containerKey]*Container),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks that the underlying database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureDatabase creates the database if it does not exist yet. A concurrent
// creator winning the race is not an error.
func (s *Store) EnsureDatabase(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	// Insert-and-ignore-duplicate rather than check-then-insert.
	rec := databaseRecord{Name: name, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil && !isDuplicate(err) {
		return fmt.Errorf("docstore: ensure database %q: %w", name, err)
	}
	return nil
}

// EnsureContainer creates the container if it does not exist yet and returns
// a handle to it. An existing container is accepted only when it declares the
// same partition key path.
func (s *Store) EnsureContainer(ctx context.Context, database, name, partitionKeyPath string) (*Container, error) {
	database, name = strings.TrimSpace(database), strings.TrimSpace(name)
	if database == "" || name == "" {
		return nil, ErrInvalidName
	}
	ptr, err := parsePartitionKeyPath(partitionKeyPath)
	if err != nil {
		return nil, err
	}

	// Containers cannot be created in a database that was never provisioned.
	db := s.db.WithContext(ctx)
	var dbRec databaseRecord
	if err := db.Where("name = ?", database).Take(&dbRec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, database)
		}
		return nil, fmt.Errorf("docstore: ensure container %s/%s: %w", database, name, err)
	}

	rec := containerRecord{
		DatabaseName:     database,
		Name:             name,
		PartitionKeyPath: partitionKeyPath,
		CreatedAt:        s.now().UTC(),
	}
	if err := db.Create(&rec).Error; err != nil {
		if !isDuplicate(err) {
			return nil, fmt.Errorf("docstore: ensure container %s/%s: %w", database, name, err)
		}
		// Already there: accept it only with the same partition key.
		existing, err := s.loadContainer(ctx, database, name)
		if err != nil {
			return nil, err
		}
		if existing.partitionKeyPath != partitionKeyPath {
			return nil, fmt.Errorf("%w: %s/%s has %s, want %s",
				ErrPartitionKeyMismatch, database, name, existing.partitionKeyPath, partitionKeyPath)
		}
		return s.remember(existing), nil
	}

	return s.remember(&Container{
		store:            s,
		database:         database,
		name:             name,
		partitionKeyPath: partitionKeyPath,
		pointer:          ptr,
	}), nil
}

// Container returns a handle to a provisioned container.
func (s *Store) Container(ctx context.Context, database, name string) (*Container, error) {
	s.mu.RLock()
	c, ok := s.containers[containerKey{database, name}]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	// Provisioned by another process, or before a restart.
	c, err := s.loadContainer(ctx, database, name)
	if err != nil {
		return nil, err
	}
	return s.remember(c), nil
}

// loadContainer reads a container definition from the database, bypassing
// the cache.
func (s *Store) loadContainer(ctx context.Context, database, name string) (*Container, error) {
	var rec containerRecord
	err := s.db.WithContext(ctx).
		Where("database_name = ? AND name = ?", database, name).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrContainerNotFound, database, name)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: load container %s/%s: %w", database, name, err)
	}
	ptr, err := parsePartitionKeyPath(rec.PartitionKeyPath)
	if err != nil {
		return nil, err
	}
	return &Container{
		store:            s,
		database:         database,
		name:             name,
		partitionKeyPath: rec.PartitionKeyPath,
		pointer:          ptr,
	}, nil
}

// remember caches c unless another goroutine cached the same container
// first, in which case that handle is returned.
func (s *Store) remember(c *Container) *Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := containerKey{c.database, c.name}
	if existing, ok := s.containers[key]; ok {
		return existing
	}
	s.containers[key] = c
	return c
}

// pause waits before the next create attempt.
func (s *Store) pause(ctx context.Context, attempt int) error {
	if s.retryDelay <= 0 {
		return ctx.Err()
	}
	// Linear backoff: 1x, 2x, 3x the delay.
	t := time.NewTimer(time.Duration(attempt) * s.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parsePartitionKeyPath accepts a non-root RFC 6901 JSON pointer such as
// "/tenantId" or "/meta/owner".
func parsePartitionKeyPath(path string) (jsonpointer.Pointer, error) {
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return jsonpointer.Pointer{}, fmt.Errorf("%w: %q", ErrInvalidPartitionKeyPath, path)
	}
	ptr, err := jsonpointer.New(path)
	if err != nil {
		return jsonpointer.Pointer{}, fmt.Errorf("%w: %q: %v", ErrInvalidPartitionKeyPath, path, err)
	}
	return ptr, nil
}
