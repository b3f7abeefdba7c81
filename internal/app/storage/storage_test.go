package storage

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/R3E-Network/cloudless/internal/app/metrics"
	"github.com/R3E-Network/cloudless/internal/app/table"
)

type note struct {
	table.BaseEntity
	Text string `json:"text" db:"text"`
}

var (
	noteID     = table.NewColumn("id", func(n *note) string { return n.ID })
	noteText   = table.NewColumn("text", func(n *note) string { return n.Text })
	noteSchema = table.MustSchema("notes", noteID, noteText)
)

func TestOpenSelectsDriver(t *testing.T) {
	if _, err := Open(Backend{Driver: "cassandra"}, noteSchema); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Backend{Driver: DriverPostgres}, noteSchema); err == nil {
		t.Fatal("expected error for postgres without a database handle")
	}

	tbl, err := NewTable(Backend{}, noteSchema)
	if err != nil {
		t.Fatalf("memory table: %v", err)
	}
	ctx := context.Background()
	if err := tbl.EnsureCollection(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := tbl.Insert(ctx, &note{Text: "hello"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := tbl.Use().Where(table.Eq(noteText, "hello"), false).Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestInstrumentedRecordsOperations(t *testing.T) {
	tbl, err := NewTable(Backend{Driver: DriverMemory}, noteSchema)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	ctx := context.Background()

	// Writing before the collection exists fails and is recorded as such.
	_ = tbl.Insert(ctx, &note{Text: "early"})

	if err := tbl.EnsureCollection(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := tbl.Use().Query(ctx); err != nil {
		t.Fatalf("query: %v", err)
	}

	n, err := testutil.GatherAndCount(metrics.Registry, "cloudless_storage_operations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// insert/false, ensure_collection/true and select/true at least.
	if n < 3 {
		t.Fatalf("got %d storage operation series, want at least 3", n)
	}
}
