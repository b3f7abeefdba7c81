package table

import (
	"cmp"
	"reflect"
	"time"
)

// Kind is the storage type of a column.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "text"
	}
}

// Field is the untyped view of a column used by collaborators, ordering and
// index declarations.
type Field[T any] interface {
	Name() string
	Kind() Kind
	Value(entity T) any
	Compare(a, b T) int
}

// Column is a typed accessor for one field of T.
type Column[T any, V any] struct {
	name string
	kind Kind
	get  func(T) V
	cmp  func(a, b V) int
}

// NewColumn builds a column over an ordered value type.
func NewColumn[T any, V cmp.Ordered](name string, get func(T) V) Column[T, V] {
	return Column[T, V]{name: name, kind: kindOf[V](), get: get, cmp: cmp.Compare[V]}
}

// NewTimeColumn builds a column over a time value.
func NewTimeColumn[T any](name string, get func(T) time.Time) Column[T, time.Time] {
	return Column[T, time.Time]{name: name, kind: KindTime, get: get, cmp: func(a, b time.Time) int { return a.Compare(b) }}
}

// NewBoolColumn builds a column over a boolean value; false sorts first.
func NewBoolColumn[T any](name string, get func(T) bool) Column[T, bool] {
	return Column[T, bool]{name: name, kind: KindBool, get: get, cmp: compareBool}
}

// Name returns the column name.
func (c Column[T, V]) Name() string { return c.name }

// Kind returns the storage kind.
func (c Column[T, V]) Kind() Kind { return c.kind }

// Get reads the typed value from entity.
func (c Column[T, V]) Get(entity T) V { return c.get(entity) }

// Value reads the value from entity as an interface.
func (c Column[T, V]) Value(entity T) any { return c.get(entity) }

// Compare orders two entities by this column.
func (c Column[T, V]) Compare(a, b T) int { return c.cmp(c.get(a), c.get(b)) }

func (c Column[T, V]) compareValues(a, b V) int { return c.cmp(a, b) }

func kindOf[V any]() Kind {
	switch reflect.TypeFor[V]().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return KindInt
	case reflect.Float32, reflect.Float64:
		return KindFloat
	default:
		return KindText
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
