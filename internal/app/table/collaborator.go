package table

import "context"

// Collaborator is the storage engine behind a Table. Each call is expected to
// complete or fail atomically; the table adds no transactional scope around
// them.
type Collaborator[T Entity] interface {
	// EnsureCollection creates the backing collection if missing. It never
	// drops or alters existing data.
	EnsureCollection(ctx context.Context) error
	// DeclareIndex creates the index if missing.
	DeclareIndex(ctx context.Context, spec IndexSpec[T]) error
	Insert(ctx context.Context, entities []T) error
	// Update replaces the stored row with the same identifier. It returns a
	// NOT_FOUND service error when no such row exists.
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, q Query[T]) (int64, error)
	// Count returns the cardinality of q, ignoring paging.
	Count(ctx context.Context, q Query[T]) (int64, error)
	Select(ctx context.Context, q Query[T]) ([]T, error)
}
