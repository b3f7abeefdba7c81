package item

import (
	"time"

	"github.com/R3E-Network/cloudless/internal/app/table"
)

// Item is the record managed by the catalog service. Name is unique across
// the collection; Code is a free-form external reference.
type Item struct {
	table.BaseEntity
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// Status values.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

var (
	ID        = table.NewColumn("id", func(i *Item) string { return i.ID })
	Name      = table.NewColumn("name", func(i *Item) string { return i.Name })
	Code      = table.NewColumn("code", func(i *Item) string { return i.Code })
	Status    = table.NewColumn("status", func(i *Item) string { return i.Status })
	CreatedAt = table.NewTimeColumn("created_at", func(i *Item) time.Time { return i.CreatedAt })
	UpdatedAt = table.NewTimeColumn("updated_at", func(i *Item) time.Time { return i.UpdatedAt })

	// Schema is the "items" collection.
	Schema = table.MustSchema("items", ID, Name, Code, Status, CreatedAt, UpdatedAt)
)

// Clone returns an independent copy.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
