// Package docstore: containers and documents.
//
// Every document operation is keyed by (id, partition key). Documents are
// stored as JSON in store_items with a monotonically increasing seq that
// gives the insertion order used by paged queries.
//
// Operations:
//   - CreateItem: insert with bounded retries on (partition key, id) conflict
//   - GetItem / ReplaceItem / DeleteItem: point operations within a partition
//   - QueryPage / QueryAll: insertion-ordered scans of one partition, with
//     optional equality filters on JSON fields
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/jsonpointer"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultPageSize is used by QueryPage when the caller passes a non-positive
// page size.
const DefaultPageSize = 20

// Container is a handle to a provisioned container. Obtain one from
// Store.EnsureContainer or Store.Container.
type Container struct {
	store            *Store
	database         string
	name             string
	partitionKeyPath string              // as given at provisioning, e.g. "/tenantId"
	pointer          jsonpointer.Pointer // parsed partitionKeyPath
}

// Name returns the container name.
func (c *Container) Name() string { return c.name }

// PartitionKeyPath returns the JSON pointer the container is partitioned by.
func (c *Container) PartitionKeyPath() string { return c.partitionKeyPath }

// Item is a stored document.
type Item struct {
	ID           string
	PartitionKey string          // in its string form, whatever the JSON type
	Body         json.RawMessage // the full document, id included
	CreatedAt    time.Time       // zero on items returned by ReplaceItem
}

// Decode unmarshals the document body into v.
func (i Item) Decode(v any) error {
	return json.Unmarshal(i.Body, v)
}

// Outcome is the final state of a CreateItem call.
type Outcome int

const (
	// OutcomeFailed means the document was not written; the accompanying
	// error says why.
	OutcomeFailed Outcome = iota
	// OutcomeCreated means the document was written by this call.
	OutcomeCreated
	// OutcomeAlreadyExists means a document with the same id and partition
	// key already existed on every attempt. Nothing was overwritten.
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// CreateResult reports what CreateItem did. For OutcomeCreated, Item is the
// stored document; for OutcomeAlreadyExists, Item is the existing document.
type CreateResult struct {
	Outcome  Outcome
	Item     Item
	Attempts int // inserts tried, including the successful one
}

// Err returns ErrItemExists for OutcomeAlreadyExists and nil otherwise, for
// call sites that treat a conflict as a failure.
func (r CreateResult) Err() error {
	if r.Outcome == OutcomeAlreadyExists {
		return ErrItemExists
	}
	return nil
}

// CreateItem stores body, which must marshal to a JSON object. A missing id
// is replaced with a random UUID. When the (partition key, id) pair is taken
// the insert is retried up to maxTries attempts in total (minimum 1); if every
// attempt conflicts the existing document is returned with
// OutcomeAlreadyExists. Any other failure yields OutcomeFailed and an error
// wrapping ErrSaveItem.
func (c *Container) CreateItem(ctx context.Context, body any, maxTries int) (CreateResult, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	doc, id, pk, err := c.prepare(body)
	if err != nil {
		createTotal.WithLabelValues(c.name, OutcomeFailed.String()).Inc()
		return CreateResult{Outcome: OutcomeFailed}, err
	}

	// Each attempt inserts the same id; a conflict means another writer
	// holds it, so retrying only helps when that document is deleted in the
	// meantime.
	db := c.store.db.WithContext(ctx)
	attempt := 0
	for {
		attempt++
		rec := itemRecord{
			DatabaseName:  c.database,
			ContainerName: c.name,
			PartitionKey:  pk,
			ItemID:        id,
			Body:          datatypes.JSON(doc),
			CreatedAt:     c.store.now().UTC(),
		}
		// The unique index on (database, container, partition key, id) is the
		// only conflict check.
		err := db.Create(&rec).Error
		if err == nil {
			c.observe(OutcomeCreated, attempt)
			return CreateResult{Outcome: OutcomeCreated, Item: rec.item(), Attempts: attempt}, nil
		}
		if !isDuplicate(err) {
			c.observe(OutcomeFailed, attempt)
			return CreateResult{Outcome: OutcomeFailed, Attempts: attempt},
				fmt.Errorf("%w: %s/%s id=%s: %w", ErrSaveItem, c.database, c.name, id, err)
		}
		if attempt >= maxTries {
			break
		}
		if err := c.store.pause(ctx, attempt); err != nil {
			c.observe(OutcomeFailed, attempt)
			return CreateResult{Outcome: OutcomeFailed, Attempts: attempt},
				fmt.Errorf("%w: %s/%s id=%s: %w", ErrSaveItem, c.database, c.name, id, err)
		}
	}

	// Every attempt conflicted: hand back the document that won.
	c.observe(OutcomeAlreadyExists, attempt)
	existing, err := c.GetItem(ctx, id, pk)
	switch {
	case err == nil:
		return CreateResult{Outcome: OutcomeAlreadyExists, Item: existing, Attempts: attempt}, nil
	case errors.Is(err, ErrItemNotFound):
		// Removed between the conflict and the read.
		return CreateResult{Outcome: OutcomeAlreadyExists, Attempts: attempt}, nil
	default:
		return CreateResult{Outcome: OutcomeFailed, Attempts: attempt},
			fmt.Errorf("%w: %s/%s id=%s: %w", ErrSaveItem, c.database, c.name, id, err)
	}
}

// GetItem reads one document. It returns ErrItemNotFound when absent.
func (c *Container) GetItem(ctx context.Context, id, partitionKey string) (Item, error) {
	var rec itemRecord
	err := c.store.db.WithContext(ctx).
		Where("database_name = ? AND container_name = ? AND partition_key = ? AND item_id = ?",
			c.database, c.name, partitionKey, id).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, fmt.Errorf("%w: %s/%s id=%s", ErrItemNotFound, c.database, c.name, id)
	}
	if err != nil {
		return Item{}, fmt.Errorf("docstore: get %s/%s id=%s: %w", c.database, c.name, id, err)
	}
	return rec.item(), nil
}

// ReplaceItem overwrites the body of an existing document, keeping its
// insertion position. The id and partition key are taken from body. It
// returns ErrItemNotFound when no such document exists.
func (c *Container) ReplaceItem(ctx context.Context, body any) (Item, error) {
	doc, id, pk, err := c.prepare(body)
	if err != nil {
		return Item{}, err
	}
	// Only the body changes, so seq and created_at keep their values.
	res := c.store.db.WithContext(ctx).Model(&itemRecord{}).
		Where("database_name = ? AND container_name = ? AND partition_key = ? AND item_id = ?",
			c.database, c.name, pk, id).
		Update("body", datatypes.JSON(doc))
	if res.Error != nil {
		return Item{}, fmt.Errorf("%w: %s/%s id=%s: %w", ErrSaveItem, c.database, c.name, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return Item{}, fmt.Errorf("%w: %s/%s id=%s", ErrItemNotFound, c.database, c.name, id)
	}
	return Item{ID: id, PartitionKey: pk, Body: doc}, nil
}

// DeleteItem removes one document. It returns ErrItemNotFound when absent.
func (c *Container) DeleteItem(ctx context.Context, id, partitionKey string) error {
	res := c.store.db.WithContext(ctx).
		Where("database_name = ? AND container_name = ? AND partition_key = ? AND item_id = ?",
			c.database, c.name, partitionKey, id).
		Delete(&itemRecord{})
	if res.Error != nil {
		return fmt.Errorf("docstore: delete %s/%s id=%s: %w", c.database, c.name, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s id=%s", ErrItemNotFound, c.database, c.name, id)
	}
	return nil
}

// Query selects documents of one partition. Equals optionally restricts the
// result to documents whose field at each JSON pointer equals the value.
type Query struct {
	PartitionKey string
	Equals       map[string]any // JSON pointer -> required value
}

// Page is one page of query results. Continuation is empty when the query is
// exhausted; otherwise pass it back verbatim to fetch the next page.
type Page struct {
	Items        []Item
	Continuation string
}

// QueryPage returns up to pageSize documents ordered by insertion, starting
// after the position encoded in continuation (empty for the first page).
func (c *Container) QueryPage(ctx context.Context, q Query, pageSize int, continuation string) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var after int64
	if continuation != "" {
		// A token is only valid for the partition it was issued for.
		cur, err := decodeCursor(continuation)
		if err != nil {
			return Page{}, err
		}
		if cur.Container != c.name || cur.PartitionKey != q.PartitionKey {
			return Page{}, fmt.Errorf("%w: token belongs to another partition", ErrInvalidContinuation)
		}
		after = cur.Seq
	}

	tx := c.store.db.WithContext(ctx).
		Where("database_name = ? AND container_name = ? AND partition_key = ? AND seq > ?",
			c.database, c.name, q.PartitionKey, after)

	// Sorted so the generated SQL is stable.
	paths := make([]string, 0, len(q.Equals))
	for p := range q.Equals {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		keys, err := pointerKeys(p)
		if err != nil {
			return Page{}, err
		}
		tx = tx.Where(datatypes.JSONQuery("body").Equals(q.Equals[p], keys...))
	}

	var recs []itemRecord
	// One extra row tells whether another page exists.
	if err := tx.Order("seq ASC").Limit(pageSize + 1).Find(&recs).Error; err != nil {
		return Page{}, fmt.Errorf("docstore: query %s/%s: %w", c.database, c.name, err)
	}

	more := len(recs) > pageSize
	if more {
		recs = recs[:pageSize]
	}
	page := Page{Items: make([]Item, 0, len(recs))}
	for _, r := range recs {
		page.Items = append(page.Items, r.item())
	}
	if more {
		tok, err := encodeCursor(cursor{
			Version:      cursorVersion,
			Container:    c.name,
			PartitionKey: q.PartitionKey,
			Seq:          recs[len(recs)-1].Seq,
		})
		if err != nil {
			return Page{}, err
		}
		page.Continuation = tok
	}
	return page, nil
}

// QueryAll follows continuation tokens until the query is exhausted.
func (c *Container) QueryAll(ctx context.Context, q Query) ([]Item, error) {
	var (
		out   []Item
		token string
	)
	for {
		page, err := c.QueryPage(ctx, q, 100, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Continuation == "" {
			return out, nil
		}
		token = page.Continuation
	}
}

// observe records the outcome of one CreateItem call.
func (c *Container) observe(o Outcome, attempts int) {
	createTotal.WithLabelValues(c.name, o.String()).Inc()
	createAttempts.WithLabelValues(c.name).Observe(float64(attempts))
}

// prepare normalizes body into a JSON object carrying an id and extracts the
// partition key.
func (c *Container) prepare(body any) (doc []byte, id, pk string, err error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	// UseNumber keeps large integers exact through the round trip.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, "", "", fmt.Errorf("%w: body must be a JSON object", ErrInvalidItem)
	}

	switch v := obj["id"].(type) {
	case nil:
		id = uuid.NewString()
	case string:
		id = strings.TrimSpace(v)
		if id == "" {
			id = uuid.NewString()
		}
	default:
		return nil, "", "", fmt.Errorf("%w: id must be a string", ErrInvalidItem)
	}
	obj["id"] = id // normalized id goes back into the document

	pk, err = c.partitionKey(obj)
	if err != nil {
		return nil, "", "", err
	}
	doc, err = json.Marshal(obj)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return doc, id, pk, nil
}

// partitionKey reads the container's partition key from obj. Strings must
// be non-empty; numbers and booleans are used in their JSON text form.
func (c *Container) partitionKey(obj map[string]any) (string, error) {
	v, _, err := c.pointer.Get(obj)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingPartitionKey, c.partitionKeyPath)
	}
	switch pk := v.(type) {
	case string:
		if pk != "" {
			return pk, nil
		}
	case json.Number:
		return pk.String(), nil
	case bool:
		return strconv.FormatBool(pk), nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingPartitionKey, c.partitionKeyPath)
}

// pointerKeys turns "/a/b" into ["a", "b"] for JSON path queries.
func pointerKeys(path string) ([]string, error) {
	ptr, err := parsePartitionKeyPath(path)
	if err != nil {
		return nil, err
	}
	return ptr.DecodedTokens(), nil
}
