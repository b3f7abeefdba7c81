// Package table provides a generic, strongly typed table handle: schema and
// index declarations, conditional query composition, and execution against
// a pluggable storage collaborator.
//
// A service declares its columns once as typed accessors and composes
// queries where every predicate carries an explicit skip flag:
//
//	items.Use().
//	    Where(table.Eq(ItemID, s.ID), s.ID == "").
//	    Where(table.ILike(s.Keyword, ItemName, ItemCode), s.Keyword == "").
//	    Paging(s.PageNo, s.PageSize).
//	    Page(ctx)
package table

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/cloudless/internal/errors"
)

// Table is the handle a service uses to reach one collection.
type Table[T Entity] struct {
	schema *Schema[T]
	coll   Collaborator[T]

	mu      sync.Mutex
	indexes map[string]IndexSpec[T]
}

// New binds schema to a storage collaborator.
func New[T Entity](schema *Schema[T], coll Collaborator[T]) *Table[T] {
	return &Table[T]{
		schema:  schema,
		coll:    coll,
		indexes: make(map[string]IndexSpec[T]),
	}
}

// Schema returns the table schema.
func (t *Table[T]) Schema() *Schema[T] { return t.schema }

// Name returns the collection name.
func (t *Table[T]) Name() string { return t.schema.Name() }

// EnsureCollection creates the backing collection if it does not exist.
func (t *Table[T]) EnsureCollection(ctx context.Context) error {
	if err := t.coll.EnsureCollection(ctx); err != nil {
		return storageError("ensure collection "+t.Name(), err)
	}
	return nil
}

// DeclareIndex validates and creates an index. Redeclaring an identical
// index is a no-op.
func (t *Table[T]) DeclareIndex(ctx context.Context, kind IndexKind, fields ...Field[T]) error {
	return t.declare(ctx, kind, false, fields)
}

// DeclareUniqueIndex declares a unique BTree index, which the collaborator
// enforces on writes.
func (t *Table[T]) DeclareUniqueIndex(ctx context.Context, fields ...Field[T]) error {
	return t.declare(ctx, BTree, true, fields)
}

func (t *Table[T]) declare(ctx context.Context, kind IndexKind, unique bool, fields []Field[T]) error {
	spec, err := t.schema.NewIndexSpec(kind, unique, fields...)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.indexes[spec.Name]; seen {
		return nil
	}
	if err := t.coll.DeclareIndex(ctx, spec); err != nil {
		return storageError("declare index "+spec.Name, err)
	}
	t.indexes[spec.Name] = spec
	return nil
}

// Indexes returns the declared index specifications.
func (t *Table[T]) Indexes() []IndexSpec[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]IndexSpec[T], 0, len(t.indexes))
	for _, spec := range t.indexes {
		out = append(out, spec)
	}
	return out
}

// Use starts a new query builder with paging disabled.
func (t *Table[T]) Use() *Builder[T] {
	return &Builder[T]{table: t, pageNo: NoPaging}
}

// Insert stores new entities, generating identifiers for those without one.
func (t *Table[T]) Insert(ctx context.Context, entities ...T) error {
	if len(entities) == 0 {
		return nil
	}
	restore := make([]func(), 0, len(entities))
	for _, e := range entities {
		if e.GetID() == "" {
			e.SetID(NewID())
			restore = append(restore, func() { e.SetID("") })
		}
		if ts, ok := any(e).(timestamped); ok {
			created, updated := ts.stamps()
			ts.SetTimestamps()
			restore = append(restore, func() { ts.restoreStamps(created, updated) })
		}
	}
	if err := t.coll.Insert(ctx, entities); err != nil {
		// Leave the caller's entities as they were passed in.
		for _, undo := range restore {
			undo()
		}
		return storageError("insert into "+t.Name(), err)
	}
	return nil
}

// Update replaces the stored entity with the same identifier.
func (t *Table[T]) Update(ctx context.Context, entity T) error {
	if entity.GetID() == "" {
		return errors.Validation(t.schema.ID().Name(), "id is required for update")
	}
	tc, stamped := any(entity).(touchable)
	var created, updated time.Time
	if stamped {
		created, updated = tc.stamps()
		tc.Touch()
	}
	if err := t.coll.Update(ctx, entity); err != nil {
		if stamped {
			tc.restoreStamps(created, updated)
		}
		return storageError("update "+t.Name(), err)
	}
	return nil
}

// Get loads one entity by identifier.
func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rows, err := t.Use().Where(Eq(t.schema.ID(), id), false).Query(ctx)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, errors.NotFound(t.Name(), id)
	}
	return rows[0], nil
}

// storageError keeps service errors from collaborators intact and wraps
// everything else as internal.
func storageError(op string, err error) error {
	if errors.GetServiceError(err) != nil {
		return err
	}
	return errors.Internal(op, err)
}
