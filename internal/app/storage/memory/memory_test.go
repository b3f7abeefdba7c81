package memory

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

type record struct {
	table.BaseEntity
	Name  string `json:"name"`
	Group string `json:"group"`
}

var (
	recordID      = table.NewColumn("id", func(r *record) string { return r.ID })
	recordName    = table.NewColumn("name", func(r *record) string { return r.Name })
	recordGroup   = table.NewColumn("grp", func(r *record) string { return r.Group })
	recordCreated = table.NewTimeColumn("created_at", func(r *record) time.Time { return r.CreatedAt })
	recordSchema  = table.MustSchema("records", recordID, recordName, recordGroup, recordCreated)
)

func newTable(t *testing.T) (*table.Table[*record], *Collection[*record]) {
	t.Helper()
	coll := New(recordSchema)
	tbl := table.New(recordSchema, coll)
	if err := tbl.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return tbl, coll
}

func TestRequiresCollection(t *testing.T) {
	coll := New(recordSchema)
	if err := coll.Insert(context.Background(), []*record{{Name: "a"}}); err == nil {
		t.Fatal("expected error before EnsureCollection")
	}
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	tbl, coll := newTable(t)
	ctx := context.Background()
	if err := tbl.DeclareUniqueIndex(ctx, recordName); err != nil {
		t.Fatalf("declare: %v", err)
	}

	if err := tbl.Insert(ctx, &record{Name: "alpha"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := tbl.Insert(ctx, &record{Name: "alpha"})
	if !errors.HasCode(err, errors.CodeDuplicate) {
		t.Fatalf("second insert: got %v, want duplicate", err)
	}

	err = tbl.Insert(ctx, &record{Name: "beta"}, &record{Name: "beta"})
	if !errors.HasCode(err, errors.CodeDuplicate) {
		t.Fatalf("duplicate within batch: got %v, want duplicate", err)
	}
	if coll.Len() != 1 {
		t.Fatalf("rejected batch left %d rows, want 1", coll.Len())
	}
}

func TestUniqueIndexOnUpdate(t *testing.T) {
	tbl, _ := newTable(t)
	ctx := context.Background()
	if err := tbl.DeclareUniqueIndex(ctx, recordName); err != nil {
		t.Fatalf("declare: %v", err)
	}
	a := &record{Name: "alpha"}
	b := &record{Name: "beta"}
	if err := tbl.Insert(ctx, a, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Keeping one's own value is not a conflict.
	a.Group = "g1"
	if err := tbl.Update(ctx, a); err != nil {
		t.Fatalf("self update: %v", err)
	}

	b.Name = "alpha"
	if err := tbl.Update(ctx, b); !errors.HasCode(err, errors.CodeDuplicate) {
		t.Fatalf("got %v, want duplicate", err)
	}

	b.Name = "gamma"
	if err := tbl.Update(ctx, b); err != nil {
		t.Fatalf("rename: %v", err)
	}
	// The old value is free again.
	if err := tbl.Insert(ctx, &record{Name: "beta"}); err != nil {
		t.Fatalf("reuse freed value: %v", err)
	}
}

func TestDeclareUniqueOverExistingDuplicates(t *testing.T) {
	tbl, _ := newTable(t)
	ctx := context.Background()
	if err := tbl.Insert(ctx, &record{Name: "x"}, &record{Name: "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.DeclareUniqueIndex(ctx, recordName); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Fatalf("got %v, want configuration error", err)
	}
}

func TestPostingsTrackWrites(t *testing.T) {
	tbl, coll := newTable(t)
	ctx := context.Background()
	if err := tbl.DeclareIndex(ctx, table.BTree, recordGroup); err != nil {
		t.Fatalf("declare: %v", err)
	}

	rows := []*record{
		{Name: "a", Group: "red"},
		{Name: "b", Group: "red"},
		{Name: "c", Group: "blue"},
	}
	if err := tbl.Insert(ctx, rows...); err != nil {
		t.Fatalf("insert: %v", err)
	}

	count := func(group string) int64 {
		t.Helper()
		n, err := tbl.Use().Where(table.Eq(recordGroup, group), false).Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		return n
	}

	if got := count("red"); got != 2 {
		t.Fatalf("red = %d, want 2", got)
	}

	rows[0].Group = "blue"
	if err := tbl.Update(ctx, rows[0]); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := count("red"); got != 1 {
		t.Fatalf("red after move = %d, want 1", got)
	}
	if got := count("blue"); got != 2 {
		t.Fatalf("blue after move = %d, want 2", got)
	}

	if _, err := tbl.Use().Where(table.Eq(recordGroup, "blue"), false).Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := count("blue"); got != 0 {
		t.Fatalf("blue after delete = %d, want 0", got)
	}
	if coll.Len() != 1 {
		t.Fatalf("len = %d, want 1", coll.Len())
	}
	if got := count("green"); got != 0 {
		t.Fatalf("green = %d, want 0", got)
	}
}

func TestSelectReturnsCopies(t *testing.T) {
	tbl, _ := newTable(t)
	ctx := context.Background()
	r := &record{Name: "orig"}
	if err := tbl.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r.Name = "mutated after insert"

	got, err := tbl.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "orig" {
		t.Fatalf("stored row aliased caller value: %q", got.Name)
	}
	got.Name = "mutated after read"

	again, err := tbl.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Name != "orig" {
		t.Fatalf("stored row aliased returned value: %q", again.Name)
	}
}

func TestBetweenOnTime(t *testing.T) {
	tbl, _ := newTable(t)
	ctx := context.Background()
	if err := tbl.DeclareIndex(ctx, table.BRIN, recordCreated); err != nil {
		t.Fatalf("declare: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := &record{Name: string(rune('a' + i))}
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := tbl.Insert(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := tbl.Use().
		Where(table.Between(recordCreated, base.Add(time.Hour), base.Add(3*time.Hour)), false).
		OrderBy(recordCreated).
		Query(ctx)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[0].Name != "b" || got[2].Name != "d" {
		t.Fatalf("unexpected order: %s..%s", got[0].Name, got[2].Name)
	}
}
