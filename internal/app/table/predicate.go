package table

import (
	"strings"
)

// Op is a predicate operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNotEq   Op = "neq"
	OpIn      Op = "in"
	OpBetween Op = "between"
	OpILike   Op = "ilike"
)

// Predicate is a single filter condition. Fields holds one column name, or
// several for ILike, which matches if any of them matches. Values holds the
// operands: one for Eq/NotEq/ILike, the members for In, low and high for
// Between. For ILike the operand is the SQL pattern with wildcards applied.
type Predicate[T any] struct {
	Op     Op
	Fields []string
	Values []any
	Skip   bool

	match func(T) bool
}

// Match evaluates the predicate against entity. A skipped predicate matches
// everything.
func (p Predicate[T]) Match(entity T) bool {
	if p.Skip || p.match == nil {
		return true
	}
	return p.match(entity)
}

// Eq matches entities whose column equals value.
func Eq[T any, V any](c Column[T, V], value V) Predicate[T] {
	return Predicate[T]{
		Op:     OpEq,
		Fields: []string{c.Name()},
		Values: []any{value},
		match:  func(e T) bool { return c.compareValues(c.get(e), value) == 0 },
	}
}

// NotEq matches entities whose column differs from value.
func NotEq[T any, V any](c Column[T, V], value V) Predicate[T] {
	return Predicate[T]{
		Op:     OpNotEq,
		Fields: []string{c.Name()},
		Values: []any{value},
		match:  func(e T) bool { return c.compareValues(c.get(e), value) != 0 },
	}
}

// In matches entities whose column is one of values. An empty set matches
// nothing; callers that mean "no filter" skip the predicate instead.
func In[T any, V any](c Column[T, V], values []V) Predicate[T] {
	members := make([]V, len(values))
	copy(members, values)
	operands := make([]any, len(members))
	for i, v := range members {
		operands[i] = v
	}
	return Predicate[T]{
		Op:     OpIn,
		Fields: []string{c.Name()},
		Values: operands,
		match: func(e T) bool {
			got := c.get(e)
			for _, v := range members {
				if c.compareValues(got, v) == 0 {
					return true
				}
			}
			return false
		},
	}
}

// Between matches entities whose column lies in [low, high].
func Between[T any, V any](c Column[T, V], low, high V) Predicate[T] {
	return Predicate[T]{
		Op:     OpBetween,
		Fields: []string{c.Name()},
		Values: []any{low, high},
		match: func(e T) bool {
			got := c.get(e)
			return c.compareValues(got, low) >= 0 && c.compareValues(got, high) <= 0
		},
	}
}

// ILike matches entities where any of the columns contains keyword, ignoring
// case. The keyword is taken literally: SQL wildcard characters in it are
// escaped before the surrounding wildcards are added.
func ILike[T any](keyword string, columns ...Column[T, string]) Predicate[T] {
	fields := make([]string, len(columns))
	for i, c := range columns {
		fields[i] = c.Name()
	}
	needle := strings.ToLower(keyword)
	cols := append([]Column[T, string](nil), columns...)
	return Predicate[T]{
		Op:     OpILike,
		Fields: fields,
		Values: []any{ContainsPattern(keyword)},
		match: func(e T) bool {
			for _, c := range cols {
				if strings.Contains(strings.ToLower(c.get(e)), needle) {
					return true
				}
			}
			return false
		},
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern wraps keyword in wildcards for a "contains" LIKE match.
func ContainsPattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}
