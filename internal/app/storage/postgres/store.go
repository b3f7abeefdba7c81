// Package postgres implements the table storage collaborator on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

const uniqueViolation = "23505"

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Collection stores one table's rows in a PostgreSQL table of the same name.
// Struct fields are mapped to columns through their db tags.
type Collection[T table.Entity] struct {
	db     *sqlx.DB
	schema *table.Schema[T]
}

var _ table.Collaborator[*probe] = (*Collection[*probe])(nil)

type probe struct{ table.BaseEntity }

// New creates a collection backed by db.
func New[T table.Entity](db *sqlx.DB, schema *table.Schema[T]) *Collection[T] {
	return &Collection[T]{db: db, schema: schema}
}

// EnsureCollection creates the table if it does not exist.
func (c *Collection[T]) EnsureCollection(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, createTableSQL(c.schema)); err != nil {
		return fmt.Errorf("create table %s: %w", c.schema.Name(), err)
	}
	return nil
}

// DeclareIndex creates the index if it does not exist.
func (c *Collection[T]) DeclareIndex(ctx context.Context, spec table.IndexSpec[T]) error {
	if _, err := c.db.ExecContext(ctx, createIndexSQL(c.schema.Name(), spec)); err != nil {
		return translate(err)
	}
	return nil
}

// Insert writes all entities in one statement.
func (c *Collection[T]) Insert(ctx context.Context, entities []T) error {
	if len(entities) == 0 {
		return nil
	}
	query, args := insertSQL(c.schema, entities)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return translate(err)
	}
	return nil
}

// Update rewrites every column of the row with the entity's identifier.
func (c *Collection[T]) Update(ctx context.Context, entity T) error {
	query, args := updateSQL(c.schema, entity)
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound(c.schema.Name(), entity.GetID())
	}
	return nil
}

// Delete removes matching rows.
func (c *Collection[T]) Delete(ctx context.Context, q table.Query[T]) (int64, error) {
	query, args := deleteSQL(q)
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

// Count returns the number of matching rows.
func (c *Collection[T]) Count(ctx context.Context, q table.Query[T]) (int64, error) {
	query, args := countSQL(q)
	var n int64
	if err := c.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// Select loads matching rows.
func (c *Collection[T]) Select(ctx context.Context, q table.Query[T]) ([]T, error) {
	query, args := selectSQL(c.schema, q)
	var rows []T
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return []T{}, nil
		}
		return nil, translate(err)
	}
	return rows, nil
}

var duplicateDetail = regexp.MustCompile(`^Key \((.+)\)=\((.*)\) already exists`)

// translate maps driver errors onto service errors where a caller can act
// on them.
func translate(err error) error {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}
	if pqErr.Code == uniqueViolation {
		if m := duplicateDetail.FindStringSubmatch(pqErr.Detail); m != nil {
			return errors.Duplicate(m[1], m[2])
		}
		return errors.Duplicate(pqErr.Constraint, nil)
	}
	return err
}

// --- SQL generation -----------------------------------------------------------

func sqlType(k table.Kind) string {
	switch k {
	case table.KindInt:
		return "BIGINT"
	case table.KindFloat:
		return "DOUBLE PRECISION"
	case table.KindBool:
		return "BOOLEAN"
	case table.KindTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func quote(name string) string { return pq.QuoteIdentifier(name) }

func columnList[T table.Entity](schema *table.Schema[T]) string {
	cols := schema.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quote(col.Name())
	}
	return strings.Join(names, ", ")
}

func createTableSQL[T table.Entity](schema *table.Schema[T]) string {
	idName := schema.ID().Name()
	defs := make([]string, 0, len(schema.Columns()))
	for _, col := range schema.Columns() {
		def := quote(col.Name()) + " " + sqlType(col.Kind())
		if col.Name() == idName {
			def += " PRIMARY KEY"
		} else {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(schema.Name()), strings.Join(defs, ", "))
}

func createIndexSQL[T table.Entity](tableName string, spec table.IndexSpec[T]) string {
	cols := spec.FieldNames()
	for i, name := range cols {
		cols[i] = quote(name)
	}
	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s USING %s (%s)",
		unique, quote(spec.Name), quote(tableName), spec.Kind, strings.Join(cols, ", "))
}

type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

func insertSQL[T table.Entity](schema *table.Schema[T], entities []T) (string, []any) {
	cols := schema.Columns()
	var a argList
	rows := make([]string, len(entities))
	for i, e := range entities {
		ph := make([]string, len(cols))
		for j, col := range cols {
			ph[j] = a.add(col.Value(e))
		}
		rows[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", quote(schema.Name()), columnList(schema), strings.Join(rows, ", "))
	return query, a.values
}

func updateSQL[T table.Entity](schema *table.Schema[T], entity T) (string, []any) {
	var a argList
	idName := schema.ID().Name()
	idPh := a.add(entity.GetID())
	sets := make([]string, 0, len(schema.Columns()))
	for _, col := range schema.Columns() {
		if col.Name() == idName {
			continue
		}
		sets = append(sets, quote(col.Name())+" = "+a.add(col.Value(entity)))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", quote(schema.Name()), strings.Join(sets, ", "), quote(idName), idPh)
	return query, a.values
}

func whereClause[T any](preds []table.Predicate[T], a *argList) string {
	if len(preds) == 0 {
		return ""
	}
	conds := make([]string, 0, len(preds))
	for _, p := range preds {
		conds = append(conds, condition(p, a))
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func condition[T any](p table.Predicate[T], a *argList) string {
	switch p.Op {
	case table.OpEq:
		return quote(p.Fields[0]) + " = " + a.add(p.Values[0])
	case table.OpNotEq:
		return quote(p.Fields[0]) + " <> " + a.add(p.Values[0])
	case table.OpIn:
		if len(p.Values) == 0 {
			return "FALSE"
		}
		ph := make([]string, len(p.Values))
		for i, v := range p.Values {
			ph[i] = a.add(v)
		}
		return quote(p.Fields[0]) + " IN (" + strings.Join(ph, ", ") + ")"
	case table.OpBetween:
		return quote(p.Fields[0]) + " BETWEEN " + a.add(p.Values[0]) + " AND " + a.add(p.Values[1])
	case table.OpILike:
		ph := a.add(p.Values[0])
		alts := make([]string, len(p.Fields))
		for i, f := range p.Fields {
			alts[i] = quote(f) + " ILIKE " + ph + ` ESCAPE '\'`
		}
		return "(" + strings.Join(alts, " OR ") + ")"
	default:
		return "FALSE"
	}
}

func selectSQL[T table.Entity](schema *table.Schema[T], q table.Query[T]) (string, []any) {
	var a argList
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columnList(schema), quote(q.Collection()))
	sb.WriteString(whereClause(q.Predicates(), &a))

	if orders := q.Orders(); len(orders) > 0 {
		keys := make([]string, len(orders))
		for i, o := range orders {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys[i] = quote(o.Field) + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(keys, ", "))
	}
	if limit := q.Limit(); limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset := q.Offset(); offset > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return sb.String(), a.values
}

func countSQL[T any](q table.Query[T]) (string, []any) {
	var a argList
	query := "SELECT COUNT(*) FROM " + quote(q.Collection()) + whereClause(q.Predicates(), &a)
	return query, a.values
}

func deleteSQL[T any](q table.Query[T]) (string, []any) {
	var a argList
	query := "DELETE FROM " + quote(q.Collection()) + whereClause(q.Predicates(), &a)
	return query, a.values
}
