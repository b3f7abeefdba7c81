// Package storage selects and instruments the table storage collaborator
// configured for a deployment.
package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/cloudless/internal/app/storage/memory"
	"github.com/R3E-Network/cloudless/internal/app/storage/postgres"
	"github.com/R3E-Network/cloudless/internal/app/table"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Backend is the storage selected at startup. DB is required for the
// postgres driver.
type Backend struct {
	Driver string
	DB     *sqlx.DB
}

// Open returns an instrumented collaborator for schema on the backend.
func Open[T table.Entity](b Backend, schema *table.Schema[T]) (table.Collaborator[T], error) {
	var coll table.Collaborator[T]
	switch b.Driver {
	case "", DriverMemory:
		coll = memory.New(schema)
	case DriverPostgres:
		if b.DB == nil {
			return nil, fmt.Errorf("storage driver %s requires a database handle", b.Driver)
		}
		coll = postgres.New(b.DB, schema)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", b.Driver)
	}
	return Instrument(schema.Name(), coll), nil
}

// NewTable opens a collaborator and binds it to a table handle.
func NewTable[T table.Entity](b Backend, schema *table.Schema[T]) (*table.Table[T], error) {
	coll, err := Open(b, schema)
	if err != nil {
		return nil, err
	}
	return table.New(schema, coll), nil
}
