package docstore

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrItemNotFound is returned when a document does not exist in the
	// requested partition.
	ErrItemNotFound = errors.New("docstore: item not found")

	// ErrItemExists is returned by CreateResult.Err when creation kept
	// conflicting with an existing document until the retry budget ran out.
	ErrItemExists = errors.New("docstore: item already exists")

	// ErrSaveItem wraps any other failure while writing a document.
	ErrSaveItem = errors.New("docstore: save item failed")

	// ErrInvalidItem is returned when a document body is not a JSON object
	// or carries a non-string id.
	ErrInvalidItem = errors.New("docstore: invalid item")

	// ErrMissingPartitionKey is returned when a document has no value at its
	// container's partition key path.
	ErrMissingPartitionKey = errors.New("docstore: missing partition key")

	// ErrInvalidName is returned for empty database or container names.
	ErrInvalidName = errors.New("docstore: invalid name")

	// ErrInvalidPartitionKeyPath is returned when a partition key path is not
	// a JSON pointer to a field.
	ErrInvalidPartitionKeyPath = errors.New("docstore: invalid partition key path")

	// ErrDatabaseNotFound is returned when a container is provisioned in a
	// database that was never ensured.
	ErrDatabaseNotFound = errors.New("docstore: database not found")

	// ErrContainerNotFound is returned when a container was never ensured.
	ErrContainerNotFound = errors.New("docstore: container not found")

	// ErrPartitionKeyMismatch is returned when a container already exists
	// with a different partition key path.
	ErrPartitionKeyMismatch = errors.New("docstore: container exists with a different partition key path")

	// ErrInvalidContinuation is returned for malformed continuation tokens or
	// tokens minted for another container or partition.
	ErrInvalidContinuation = errors.New("docstore: invalid continuation token")
)

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
