// GORM models of the store tables. They are internal: callers see Item and
// Container, never the rows.
package docstore

import (
	"time"

	"gorm.io/datatypes"
)

// databaseRecord registers a provisioned database.
type databaseRecord struct {
	Name      string    `gorm:"column:name;type:varchar(255);primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName overrides GORM's pluralized default.
func (databaseRecord) TableName() string { return "store_databases" }

// containerRecord registers a provisioned container and its partition key path.
type containerRecord struct {
	DatabaseName     string    `gorm:"column:database_name;type:varchar(255);primaryKey"`
	Name             string    `gorm:"column:name;type:varchar(255);primaryKey"`
	PartitionKeyPath string    `gorm:"column:partition_key_path;type:varchar(255);not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (containerRecord) TableName() string { return "store_containers" }

// itemRecord is one stored document. (database, container, partition key, id)
// is unique; Seq orders documents by insertion within a partition.
type itemRecord struct {
	// Seq aliases the SQLite rowid; continuation tokens resume after it.
	Seq           int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	DatabaseName  string         `gorm:"column:database_name;type:varchar(255);not null;uniqueIndex:ux_items_key,priority:1;index:idx_items_scan,priority:1"`
	ContainerName string         `gorm:"column:container_name;type:varchar(255);not null;uniqueIndex:ux_items_key,priority:2;index:idx_items_scan,priority:2"`
	PartitionKey  string         `gorm:"column:partition_key;type:varchar(255);not null;uniqueIndex:ux_items_key,priority:3;index:idx_items_scan,priority:3"`
	ItemID        string         `gorm:"column:item_id;type:varchar(255);not null;uniqueIndex:ux_items_key,priority:4"`
	Body          datatypes.JSON `gorm:"column:body;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
}

func (itemRecord) TableName() string { return "store_items" }

// item converts the row to the public Item. Body is shared, not copied.
func (r itemRecord) item() Item {
	return Item{
		ID:           r.ItemID,
		PartitionKey: r.PartitionKey,
		Body:         []byte(r.Body),
		CreatedAt:    r.CreatedAt,
	}
}
