package table

import (
	"github.com/R3E-Network/cloudless/internal/errors"
)

// NoPaging disables pagination.
const NoPaging = -1

// Order is one ordering key as seen by collaborators.
type Order struct {
	Field string
	Desc  bool
}

type orderKey[T any] struct {
	field Field[T]
	desc  bool
}

// Query is an immutable composition of active predicates, ordering and
// paging over one collection.
type Query[T any] struct {
	collection string
	predicates []Predicate[T]
	orders     []orderKey[T]
	pageNo     int
	pageSize   int
	limitOne   bool
}

// Collection returns the collection name.
func (q Query[T]) Collection() string { return q.collection }

// Predicates returns the active predicates in the order they were added.
func (q Query[T]) Predicates() []Predicate[T] {
	out := make([]Predicate[T], len(q.predicates))
	copy(out, q.predicates)
	return out
}

// Orders returns the ordering keys. Empty for existence probes.
func (q Query[T]) Orders() []Order {
	out := make([]Order, len(q.orders))
	for i, o := range q.orders {
		out[i] = Order{Field: o.field.Name(), Desc: o.desc}
	}
	return out
}

// Paged reports whether pagination is active.
func (q Query[T]) Paged() bool { return q.pageNo != NoPaging }

// PageNo returns the 1-based page number, or NoPaging.
func (q Query[T]) PageNo() int { return q.pageNo }

// PageSize returns the page size; meaningful only when Paged.
func (q Query[T]) PageSize() int { return q.pageSize }

// Limit returns the maximum number of rows to return, 0 meaning unbounded.
func (q Query[T]) Limit() int {
	if q.limitOne {
		return 1
	}
	if !q.Paged() {
		return 0
	}
	return q.pageSize
}

// Offset returns the number of leading rows to skip.
func (q Query[T]) Offset() int {
	if q.limitOne || !q.Paged() {
		return 0
	}
	return (q.pageNo - 1) * q.pageSize
}

// Unordered reports whether the caller only needs any matching row, letting
// collaborators stop at the first match.
func (q Query[T]) Unordered() bool { return q.limitOne }

// Match reports whether entity satisfies every predicate.
func (q Query[T]) Match(entity T) bool {
	for _, p := range q.predicates {
		if !p.Match(entity) {
			return false
		}
	}
	return true
}

// Compare orders two entities by the query's ordering keys.
func (q Query[T]) Compare(a, b T) int {
	for _, o := range q.orders {
		c := o.field.Compare(a, b)
		if o.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// WithoutPaging returns a copy with pagination disabled, as used for counts.
func (q Query[T]) WithoutPaging() Query[T] {
	q.pageNo = NoPaging
	q.pageSize = 0
	return q
}

func (q Query[T]) existence() Query[T] {
	q.orders = nil
	q.limitOne = true
	return q
}

func validatePaging(pageNo, pageSize int) error {
	if pageNo == NoPaging {
		return nil
	}
	if pageNo < 1 {
		return errors.InvalidQuery("page number must be 1 or greater, or -1 to disable paging").
			WithDetails("pageNo", pageNo)
	}
	if pageSize <= 0 {
		return errors.InvalidQuery("page size must be positive when paging is enabled").
			WithDetails("pageSize", pageSize)
	}
	return nil
}
