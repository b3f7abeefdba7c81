package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/metrics"
	"github.com/R3E-Network/cloudless/internal/app/table"
)

// Instrumented records metrics for every call to the wrapped collaborator.
type Instrumented[T table.Entity] struct {
	name string
	next table.Collaborator[T]
}

// Instrument wraps next.
func Instrument[T table.Entity](name string, next table.Collaborator[T]) *Instrumented[T] {
	return &Instrumented[T]{name: name, next: next}
}

func (s *Instrumented[T]) record(op string, start time.Time, err error) {
	metrics.RecordStorageOperation(s.name, op, time.Since(start), err)
}

func (s *Instrumented[T]) EnsureCollection(ctx context.Context) error {
	start := time.Now()
	err := s.next.EnsureCollection(ctx)
	s.record("ensure_collection", start, err)
	return err
}

func (s *Instrumented[T]) DeclareIndex(ctx context.Context, spec table.IndexSpec[T]) error {
	start := time.Now()
	err := s.next.DeclareIndex(ctx, spec)
	s.record("declare_index", start, err)
	return err
}

func (s *Instrumented[T]) Insert(ctx context.Context, entities []T) error {
	start := time.Now()
	err := s.next.Insert(ctx, entities)
	s.record("insert", start, err)
	return err
}

func (s *Instrumented[T]) Update(ctx context.Context, entity T) error {
	start := time.Now()
	err := s.next.Update(ctx, entity)
	s.record("update", start, err)
	return err
}

func (s *Instrumented[T]) Delete(ctx context.Context, q table.Query[T]) (int64, error) {
	start := time.Now()
	n, err := s.next.Delete(ctx, q)
	s.record("delete", start, err)
	return n, err
}

func (s *Instrumented[T]) Count(ctx context.Context, q table.Query[T]) (int64, error) {
	start := time.Now()
	n, err := s.next.Count(ctx, q)
	s.record("count", start, err)
	return n, err
}

func (s *Instrumented[T]) Select(ctx context.Context, q table.Query[T]) ([]T, error) {
	start := time.Now()
	rows, err := s.next.Select(ctx, q)
	s.record("select", start, err)
	return rows, err
}
