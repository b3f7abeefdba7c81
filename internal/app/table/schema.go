package table

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/R3E-Network/cloudless/internal/errors"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Schema describes a collection: its name, identifier column and the full
// ordered column set.
type Schema[T Entity] struct {
	name    string
	id      Column[T, string]
	columns []Field[T]
	byName  map[string]Field[T]
}

// NewSchema validates and builds a schema. The identifier column is always
// the first column; listing it again in columns is allowed.
func NewSchema[T Entity](name string, id Column[T, string], columns ...Field[T]) (*Schema[T], error) {
	if !identPattern.MatchString(name) {
		return nil, errors.Configurationf("invalid collection name %q", name)
	}
	s := &Schema[T]{
		name:   name,
		id:     id,
		byName: make(map[string]Field[T], len(columns)+1),
	}
	if err := s.add(id); err != nil {
		return nil, err
	}
	for _, col := range columns {
		if col == nil {
			return nil, errors.Configurationf("collection %s: nil column", name)
		}
		if col.Name() == id.Name() {
			continue
		}
		if err := s.add(col); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. For package-level schema
// declarations.
func MustSchema[T Entity](name string, id Column[T, string], columns ...Field[T]) *Schema[T] {
	s, err := NewSchema(name, id, columns...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema[T]) add(col Field[T]) error {
	if !identPattern.MatchString(col.Name()) {
		return errors.Configurationf("collection %s: invalid column name %q", s.name, col.Name())
	}
	if _, dup := s.byName[col.Name()]; dup {
		return errors.Configurationf("collection %s: duplicate column %q", s.name, col.Name())
	}
	s.byName[col.Name()] = col
	s.columns = append(s.columns, col)
	return nil
}

// Name returns the collection name.
func (s *Schema[T]) Name() string { return s.name }

// ID returns the identifier column.
func (s *Schema[T]) ID() Column[T, string] { return s.id }

// Columns returns the columns in declaration order, identifier first.
func (s *Schema[T]) Columns() []Field[T] {
	out := make([]Field[T], len(s.columns))
	copy(out, s.columns)
	return out
}

// Column looks up a column by name.
func (s *Schema[T]) Column(name string) (Field[T], bool) {
	col, ok := s.byName[name]
	return col, ok
}

// IndexKind selects the physical index structure.
type IndexKind string

const (
	// BTree supports equality, range and order-by.
	BTree IndexKind = "btree"
	// BRIN supports coarse range scans on monotonic fields such as creation time.
	BRIN IndexKind = "brin"
)

// IndexSpec is a validated index declaration.
type IndexSpec[T Entity] struct {
	Name   string
	Kind   IndexKind
	Fields []Field[T]
	Unique bool
}

// FieldNames returns the indexed column names in order.
func (s IndexSpec[T]) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name()
	}
	return names
}

// NewIndexSpec validates an index declaration against the schema.
func (s *Schema[T]) NewIndexSpec(kind IndexKind, unique bool, fields ...Field[T]) (IndexSpec[T], error) {
	switch kind {
	case BTree, BRIN:
	default:
		return IndexSpec[T]{}, errors.Configurationf("collection %s: unknown index kind %q", s.name, kind)
	}
	if len(fields) == 0 {
		return IndexSpec[T]{}, errors.Configurationf("collection %s: index requires at least one field", s.name)
	}
	if unique && kind != BTree {
		return IndexSpec[T]{}, errors.Configurationf("collection %s: unique index must be %s", s.name, BTree)
	}

	names := make([]string, 0, len(fields))
	resolved := make([]Field[T], 0, len(fields))
	for _, f := range fields {
		if f == nil {
			return IndexSpec[T]{}, errors.Configurationf("collection %s: nil index field", s.name)
		}
		col, ok := s.byName[f.Name()]
		if !ok {
			return IndexSpec[T]{}, errors.Configurationf("collection %s: index references unknown field %q", s.name, f.Name())
		}
		resolved = append(resolved, col)
		names = append(names, col.Name())
	}

	name := fmt.Sprintf("%s_%s_%s_idx", s.name, strings.Join(names, "_"), kind)
	if unique {
		name = fmt.Sprintf("%s_%s_key", s.name, strings.Join(names, "_"))
	}
	return IndexSpec[T]{Name: name, Kind: kind, Fields: resolved, Unique: unique}, nil
}
