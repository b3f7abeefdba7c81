// Package validation checks entity invariants through the table query
// builder before writes reach storage.
package validation

import (
	"context"
	"fmt"
	"sort"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Mode tells rules which write path is being validated.
type Mode int

const (
	Create Mode = iota
	Update
	Delete
)

func (m Mode) String() string {
	switch m {
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "create"
	}
}

// Rule is one entity-level check.
type Rule[T table.Entity] interface {
	Check(ctx context.Context, mode Mode, entity T) error
}

// RuleFunc adapts a function to Rule.
type RuleFunc[T table.Entity] func(ctx context.Context, mode Mode, entity T) error

// Check calls f.
func (f RuleFunc[T]) Check(ctx context.Context, mode Mode, entity T) error {
	return f(ctx, mode, entity)
}

// keyed is implemented by rules whose check must be serialized with the
// write that follows it.
type keyed[T table.Entity] interface {
	LockKey(mode Mode, entity T) (string, bool)
}

// RequireIdentifierOnUpdate fails when an update or delete has no identifier.
func RequireIdentifierOnUpdate[T table.Entity](mode Mode, entity T) error {
	if mode != Create && entity.GetID() == "" {
		return errors.Validation("id", fmt.Sprintf("id is required for %s", mode))
	}
	return nil
}

// RequireID returns a rule wrapping RequireIdentifierOnUpdate.
func RequireID[T table.Entity]() Rule[T] {
	return RuleFunc[T](func(_ context.Context, mode Mode, entity T) error {
		return RequireIdentifierOnUpdate(mode, entity)
	})
}

// CheckUnique fails with a duplicate error when another row holds the
// entity's value of col. On update the entity's own row is excluded.
func CheckUnique[T table.Entity, V any](ctx context.Context, tbl *table.Table[T], col table.Column[T, V], entity T, update bool) error {
	value := col.Get(entity)
	exists, err := tbl.Use().
		Where(table.Eq(col, value), false).
		Where(table.NotEq(tbl.Schema().ID(), entity.GetID()), !update).
		Exist(ctx)
	if err != nil {
		return err
	}
	if exists {
		return errors.Duplicate(col.Name(), value)
	}
	return nil
}

type uniqueRule[T table.Entity, V any] struct {
	tbl *table.Table[T]
	col table.Column[T, V]
}

// Unique returns a rule enforcing that no two rows share a value of col.
// It takes part in write serialization when the validator has a Locker.
func Unique[T table.Entity, V any](tbl *table.Table[T], col table.Column[T, V]) Rule[T] {
	return uniqueRule[T, V]{tbl: tbl, col: col}
}

func (r uniqueRule[T, V]) Check(ctx context.Context, mode Mode, entity T) error {
	if mode == Delete {
		return nil
	}
	return CheckUnique(ctx, r.tbl, r.col, entity, mode == Update)
}

func (r uniqueRule[T, V]) LockKey(mode Mode, entity T) (string, bool) {
	if mode == Delete {
		return "", false
	}
	return fmt.Sprintf("%s:%s:%v", r.tbl.Name(), r.col.Name(), r.col.Get(entity)), true
}

type referenceRule[T table.Entity, R table.Entity] struct {
	refs  *table.Table[R]
	col   table.Column[R, string]
	label string
}

// NotReferenced returns a rule that refuses deleting an entity while rows
// of refs point at it through col. label names the referencing data in the
// error message.
func NotReferenced[T table.Entity, R table.Entity](refs *table.Table[R], col table.Column[R, string], label string) Rule[T] {
	if label == "" {
		label = refs.Name()
	}
	return referenceRule[T, R]{refs: refs, col: col, label: label}
}

func (r referenceRule[T, R]) Check(ctx context.Context, mode Mode, entity T) error {
	if mode != Delete {
		return nil
	}
	exists, err := r.refs.Use().Where(table.Eq(r.col, entity.GetID()), false).Exist(ctx)
	if err != nil {
		return err
	}
	if exists {
		return errors.Conflict(
			fmt.Sprintf("%s is still referenced by %s", entity.GetID(), r.label),
			r.refs.Name(),
		)
	}
	return nil
}

// Validator runs rules in order and stops at the first failure.
type Validator[T table.Entity] struct {
	rules  []Rule[T]
	locker Locker
}

// New creates a validator. Rules run in the given order.
func New[T table.Entity](rules ...Rule[T]) *Validator[T] {
	return &Validator[T]{rules: rules}
}

// WithLocker serializes Guard calls that touch the same unique values.
func (v *Validator[T]) WithLocker(l Locker) *Validator[T] {
	v.locker = l
	return v
}

// Validate runs every rule.
func (v *Validator[T]) Validate(ctx context.Context, mode Mode, entity T) error {
	for _, r := range v.rules {
		if err := r.Check(ctx, mode, entity); err != nil {
			return err
		}
	}
	return nil
}

// Guard validates entity and runs write while holding the locks of every
// unique value involved, closing the window between check and write.
func (v *Validator[T]) Guard(ctx context.Context, mode Mode, entity T, write func(ctx context.Context) error) error {
	if v.locker != nil {
		keys := v.lockKeys(mode, entity)
		for _, key := range keys {
			unlock, err := v.locker.Lock(ctx, key)
			if err != nil {
				return err
			}
			defer unlock()
		}
	}
	if err := v.Validate(ctx, mode, entity); err != nil {
		return err
	}
	return write(ctx)
}

// lockKeys returns sorted, distinct keys so concurrent guards acquire them
// in the same order.
func (v *Validator[T]) lockKeys(mode Mode, entity T) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range v.rules {
		k, ok := r.(keyed[T])
		if !ok {
			continue
		}
		key, ok := k.LockKey(mode, entity)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
