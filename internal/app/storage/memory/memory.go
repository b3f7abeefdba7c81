// Package memory provides an in-memory storage collaborator for tables. It
// is safe for concurrent use and is intended for tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Cloner lets an entity provide its own deep copy. Entities without it are
// copied through a JSON round trip.
type Cloner[T any] interface {
	Clone() T
}

// Collection stores rows of one table. Rows are addressed by a dense
// ordinal so that BTree index postings can be kept as roaring bitmaps.
type Collection[T table.Entity] struct {
	schema *table.Schema[T]

	mu      sync.RWMutex
	exists  bool
	nextOrd uint32
	all     *roaring.Bitmap
	rows    map[uint32]T
	byID    map[string]uint32
	indexes map[string]*index[T]
}

type index[T table.Entity] struct {
	spec     table.IndexSpec[T]
	postings map[string]*roaring.Bitmap
}

var _ table.Collaborator[*probe] = (*Collection[*probe])(nil)

type probe struct{ table.BaseEntity }

// New creates an empty collection for schema. The collection does not exist
// until EnsureCollection is called.
func New[T table.Entity](schema *table.Schema[T]) *Collection[T] {
	return &Collection[T]{
		schema:  schema,
		all:     roaring.New(),
		rows:    make(map[uint32]T),
		byID:    make(map[string]uint32),
		indexes: make(map[string]*index[T]),
	}
}

// EnsureCollection marks the collection as created. Existing rows are kept.
func (c *Collection[T]) EnsureCollection(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exists = true
	return nil
}

// DeclareIndex builds postings for BTree indexes and records unique
// constraints. BRIN indexes only affect physical layout in a real engine and
// are recorded without postings.
func (c *Collection[T]) DeclareIndex(_ context.Context, spec table.IndexSpec[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if _, ok := c.indexes[spec.Name]; ok {
		return nil
	}

	idx := &index[T]{spec: spec, postings: make(map[string]*roaring.Bitmap)}
	for ord, row := range c.rows {
		key := tupleKey(spec, row)
		if spec.Unique {
			if bm, ok := idx.postings[key]; ok && !bm.IsEmpty() {
				return errors.Configurationf("cannot create unique index %s: duplicate values exist", spec.Name)
			}
		}
		idx.add(key, ord)
	}
	c.indexes[spec.Name] = idx
	return nil
}

// Insert adds entities. The whole batch is rejected if any identifier or
// unique key collides.
func (c *Collection[T]) Insert(_ context.Context, entities []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}

	batchIDs := make(map[string]struct{}, len(entities))
	batchKeys := make(map[string]map[string]struct{})
	for _, e := range entities {
		id := e.GetID()
		if _, dup := c.byID[id]; dup {
			return errors.Duplicate(c.schema.ID().Name(), id)
		}
		if _, dup := batchIDs[id]; dup {
			return errors.Duplicate(c.schema.ID().Name(), id)
		}
		batchIDs[id] = struct{}{}

		for name, idx := range c.indexes {
			if !idx.spec.Unique {
				continue
			}
			key := tupleKey(idx.spec, e)
			if bm, ok := idx.postings[key]; ok && !bm.IsEmpty() {
				return duplicateOf(idx.spec, e)
			}
			seen := batchKeys[name]
			if seen == nil {
				seen = make(map[string]struct{})
				batchKeys[name] = seen
			}
			if _, dup := seen[key]; dup {
				return duplicateOf(idx.spec, e)
			}
			seen[key] = struct{}{}
		}
	}

	for _, e := range entities {
		ord := c.nextOrd
		c.nextOrd++
		stored := cloneEntity(e)
		c.rows[ord] = stored
		c.byID[stored.GetID()] = ord
		c.all.Add(ord)
		for _, idx := range c.indexes {
			idx.add(tupleKey(idx.spec, stored), ord)
		}
	}
	return nil
}

// Update replaces the row with the entity's identifier.
func (c *Collection[T]) Update(_ context.Context, entity T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}

	ord, ok := c.byID[entity.GetID()]
	if !ok {
		return errors.NotFound(c.schema.Name(), entity.GetID())
	}

	for _, idx := range c.indexes {
		if !idx.spec.Unique {
			continue
		}
		bm, ok := idx.postings[tupleKey(idx.spec, entity)]
		if !ok {
			continue
		}
		if bm.GetCardinality() > 1 || (bm.GetCardinality() == 1 && !bm.Contains(ord)) {
			return duplicateOf(idx.spec, entity)
		}
	}

	old := c.rows[ord]
	stored := cloneEntity(entity)
	for _, idx := range c.indexes {
		idx.remove(tupleKey(idx.spec, old), ord)
		idx.add(tupleKey(idx.spec, stored), ord)
	}
	c.rows[ord] = stored
	return nil
}

// Delete removes every row matching q.
func (c *Collection[T]) Delete(_ context.Context, q table.Query[T]) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return 0, err
	}

	var removed int64
	for _, ord := range c.matchLocked(q, false) {
		row := c.rows[ord]
		for _, idx := range c.indexes {
			idx.remove(tupleKey(idx.spec, row), ord)
		}
		delete(c.byID, row.GetID())
		delete(c.rows, ord)
		c.all.Remove(ord)
		removed++
	}
	return removed, nil
}

// Count returns the number of rows matching q.
func (c *Collection[T]) Count(_ context.Context, q table.Query[T]) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.readyLocked(); err != nil {
		return 0, err
	}
	return int64(len(c.matchLocked(q, false))), nil
}

// Select returns copies of the rows matching q, ordered and paged.
func (c *Collection[T]) Select(_ context.Context, q table.Query[T]) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.readyLocked(); err != nil {
		return nil, err
	}

	ords := c.matchLocked(q, q.Unordered())
	rows := make([]T, 0, len(ords))
	for _, ord := range ords {
		rows = append(rows, c.rows[ord])
	}
	if !q.Unordered() {
		slices.SortStableFunc(rows, q.Compare)
	}

	offset, limit := q.Offset(), q.Limit()
	if offset >= len(rows) {
		return []T{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	out := make([]T, len(rows))
	for i, row := range rows {
		out[i] = cloneEntity(row)
	}
	return out, nil
}

// Len returns the number of stored rows.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func (c *Collection[T]) readyLocked() error {
	if !c.exists {
		return fmt.Errorf("collection %s does not exist", c.schema.Name())
	}
	return nil
}

// matchLocked narrows candidates through equality postings where an index
// covers a predicate, then filters by every predicate. With firstOnly it
// stops at the first match.
func (c *Collection[T]) matchLocked(q table.Query[T], firstOnly bool) []uint32 {
	candidates := c.candidatesLocked(q)

	var out []uint32
	it := candidates.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if !q.Match(c.rows[ord]) {
			continue
		}
		out = append(out, ord)
		if firstOnly {
			break
		}
	}
	return out
}

func (c *Collection[T]) candidatesLocked(q table.Query[T]) *roaring.Bitmap {
	var narrowed *roaring.Bitmap
	for _, p := range q.Predicates() {
		if p.Op != table.OpEq || len(p.Fields) != 1 {
			continue
		}
		idx := c.singleFieldIndexLocked(p.Fields[0])
		if idx == nil {
			continue
		}
		bm, ok := idx.postings[valueKey(p.Values[0])]
		if !ok {
			return roaring.New()
		}
		if narrowed == nil {
			narrowed = bm.Clone()
		} else {
			narrowed.And(bm)
		}
	}
	if narrowed == nil {
		return c.all
	}
	return narrowed
}

func (c *Collection[T]) singleFieldIndexLocked(field string) *index[T] {
	for _, idx := range c.indexes {
		if idx.spec.Kind == table.BTree && len(idx.spec.Fields) == 1 && idx.spec.Fields[0].Name() == field {
			return idx
		}
	}
	return nil
}

func (idx *index[T]) add(key string, ord uint32) {
	bm, ok := idx.postings[key]
	if !ok {
		bm = roaring.New()
		idx.postings[key] = bm
	}
	bm.Add(ord)
}

func (idx *index[T]) remove(key string, ord uint32) {
	bm, ok := idx.postings[key]
	if !ok {
		return
	}
	bm.Remove(ord)
	if bm.IsEmpty() {
		delete(idx.postings, key)
	}
}

func duplicateOf[T table.Entity](spec table.IndexSpec[T], e T) error {
	names := spec.FieldNames()
	if len(spec.Fields) == 1 {
		return errors.Duplicate(names[0], spec.Fields[0].Value(e))
	}
	values := make([]any, len(spec.Fields))
	for i, f := range spec.Fields {
		values[i] = f.Value(e)
	}
	return errors.Duplicate(strings.Join(names, ","), values)
}

func tupleKey[T table.Entity](spec table.IndexSpec[T], e T) string {
	if len(spec.Fields) == 1 {
		return valueKey(spec.Fields[0].Value(e))
	}
	parts := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		parts[i] = valueKey(f.Value(e))
	}
	return strings.Join(parts, "\x1f")
}

func valueKey(v any) string {
	switch x := v.(type) {
	case time.Time:
		return strconv.FormatInt(x.UnixNano(), 10)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func cloneEntity[T any](e T) T {
	if c, ok := any(e).(Cloner[T]); ok {
		return c.Clone()
	}
	var out T
	data, err := json.Marshal(e)
	if err != nil {
		return e
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return e
	}
	return out
}
