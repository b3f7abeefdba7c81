package table

import (
	"context"

	"github.com/R3E-Network/cloudless/internal/errors"
)

// DataList is one page of results. Total is only populated when paging is
// enabled.
type DataList[T any] struct {
	Total int64 `json:"total,omitempty"`
	List  []T   `json:"list"`
}

// Builder composes a query over a Table. A builder is not safe for
// concurrent use; call Table.Use for each query.
type Builder[T Entity] struct {
	table    *Table[T]
	preds    []Predicate[T]
	orders   []orderKey[T]
	pageNo   int
	pageSize int
}

// Where appends p. When skip is true the predicate contributes no
// constraint, as if it had never been added.
func (b *Builder[T]) Where(p Predicate[T], skip bool) *Builder[T] {
	p.Skip = skip
	b.preds = append(b.preds, p)
	return b
}

// And appends p unconditionally.
func (b *Builder[T]) And(p Predicate[T]) *Builder[T] {
	return b.Where(p, false)
}

// Paging sets the 1-based page number and size. NoPaging disables paging.
func (b *Builder[T]) Paging(pageNo, pageSize int) *Builder[T] {
	b.pageNo = pageNo
	b.pageSize = pageSize
	return b
}

// OrderBy appends an ascending ordering key.
func (b *Builder[T]) OrderBy(f Field[T]) *Builder[T] {
	b.orders = append(b.orders, orderKey[T]{field: f})
	return b
}

// OrderByDesc appends a descending ordering key.
func (b *Builder[T]) OrderByDesc(f Field[T]) *Builder[T] {
	b.orders = append(b.orders, orderKey[T]{field: f, desc: true})
	return b
}

// Build validates the composition and returns an immutable Query. Without
// explicit ordering the query orders by descending identifier; the
// identifier is always the final tiebreaker.
func (b *Builder[T]) Build() (Query[T], error) {
	if err := validatePaging(b.pageNo, b.pageSize); err != nil {
		return Query[T]{}, err
	}

	schema := b.table.schema
	active := make([]Predicate[T], 0, len(b.preds))
	for _, p := range b.preds {
		if p.Skip {
			continue
		}
		for _, name := range p.Fields {
			if _, ok := schema.Column(name); !ok {
				return Query[T]{}, errors.InvalidQuery("unknown field " + name).WithDetails("field", name)
			}
		}
		active = append(active, p)
	}

	idName := schema.ID().Name()
	orders := make([]orderKey[T], 0, len(b.orders)+1)
	hasID := false
	for _, o := range b.orders {
		if _, ok := schema.Column(o.field.Name()); !ok {
			return Query[T]{}, errors.InvalidQuery("unknown order field " + o.field.Name()).WithDetails("field", o.field.Name())
		}
		if o.field.Name() == idName {
			hasID = true
		}
		orders = append(orders, o)
	}
	if !hasID {
		orders = append(orders, orderKey[T]{field: schema.ID(), desc: true})
	}

	return Query[T]{
		collection: schema.Name(),
		predicates: active,
		orders:     orders,
		pageNo:     b.pageNo,
		pageSize:   b.pageSize,
	}, nil
}

// Count returns the number of matching rows, ignoring paging.
func (b *Builder[T]) Count(ctx context.Context) (int64, error) {
	q, err := b.Build()
	if err != nil {
		return 0, err
	}
	n, err := b.table.coll.Count(ctx, q.WithoutPaging())
	if err != nil {
		return 0, storageError("count "+q.Collection(), err)
	}
	return n, nil
}

// Query returns the requested page, or every match when paging is disabled.
func (b *Builder[T]) Query(ctx context.Context) ([]T, error) {
	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := b.table.coll.Select(ctx, q)
	if err != nil {
		return nil, storageError("select "+q.Collection(), err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

// Exist reports whether any row matches. It asks the collaborator for at
// most one unordered row instead of counting.
func (b *Builder[T]) Exist(ctx context.Context) (bool, error) {
	q, err := b.Build()
	if err != nil {
		return false, err
	}
	rows, err := b.table.coll.Select(ctx, q.existence())
	if err != nil {
		return false, storageError("probe "+q.Collection(), err)
	}
	return len(rows) > 0, nil
}

// Delete removes every matching row and returns how many were removed. A
// delete without any active predicate is refused.
func (b *Builder[T]) Delete(ctx context.Context) (int64, error) {
	q, err := b.Build()
	if err != nil {
		return 0, err
	}
	if len(q.predicates) == 0 {
		return 0, errors.InvalidQuery("delete requires at least one active predicate")
	}
	n, err := b.table.coll.Delete(ctx, q.WithoutPaging())
	if err != nil {
		return 0, storageError("delete from "+q.Collection(), err)
	}
	return n, nil
}

// Page runs the query and, only when paging is enabled, the total count.
func (b *Builder[T]) Page(ctx context.Context) (DataList[T], error) {
	q, err := b.Build()
	if err != nil {
		return DataList[T]{}, err
	}

	var out DataList[T]
	if q.Paged() {
		total, err := b.table.coll.Count(ctx, q.WithoutPaging())
		if err != nil {
			return DataList[T]{}, storageError("count "+q.Collection(), err)
		}
		out.Total = total
	}

	rows, err := b.table.coll.Select(ctx, q)
	if err != nil {
		return DataList[T]{}, storageError("select "+q.Collection(), err)
	}
	if rows == nil {
		rows = []T{}
	}
	out.List = rows
	return out, nil
}
