package types

import (
	"time"

	"github.com/gobitfly/tabletstore/schema"
)

// TableMeta is the catalog entry of a table.
type TableMeta struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Schema    *schema.Schema        `json:"schema"`
	Partition *schema.PartitionSpec `json:"partition"`
	CreatedAt time.Time             `json:"created_at"`
}
