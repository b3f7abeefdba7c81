package transfer

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

type row struct {
	table.BaseEntity
	Name  string
	Price float64
}

var rowSchema = table.MustSchema("rows",
	table.NewColumn("id", func(r *row) string { return r.ID }),
	table.NewColumn("name", func(r *row) string { return r.Name }),
	table.NewColumn("price", func(r *row) float64 { return r.Price }),
	table.NewTimeColumn("created_at", func(r *row) time.Time { return r.CreatedAt }),
)

var items = []ExportItem{{Field: "name", Title: "Name"}, {Field: "price", Title: "Unit price"}, {Field: "created_at"}}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entities := []*row{
		{Name: "plain", Price: 1.5},
		{Name: `quoted, "with" comma`, Price: 20},
	}
	entities[0].CreatedAt = created

	cells, err := Rows(rowSchema, items, entities)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "1.5", "2024-03-01T12:00:00Z"}, cells[0])
	assert.Equal(t, "", cells[1][2])

	var buf bytes.Buffer
	require.NoError(t, CSV{}.Encode(&buf, items, cells))
	assert.True(t, strings.HasPrefix(buf.String(), "Name,Unit price,created_at\n"))

	records, err := CSV{}.Decode(&buf, items)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{"name": `quoted, "with" comma`, "price": "20", "created_at": ""}, records[1])
}

func TestXLSXRoundTrip(t *testing.T) {
	cells := [][]string{
		{"plain", "1.5", "2024-03-01T12:00:00Z"},
		{"", "", ""},
		{`quoted, "with" comma`, "20", ""},
	}

	var buf bytes.Buffer
	require.NoError(t, XLSX{Sheet: "items"}.Encode(&buf, items, cells))
	// xlsx files are zip archives.
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")))

	records, err := XLSX{}.Decode(bytes.NewReader(buf.Bytes()), items)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{"name": "plain", "price": "1.5", "created_at": "2024-03-01T12:00:00Z"}, records[0])
	assert.Equal(t, Record{"name": `quoted, "with" comma`, "price": "20", "created_at": ""}, records[1])

	_, err = XLSX{Sheet: "missing"}.Decode(bytes.NewReader(buf.Bytes()), items)
	assert.True(t, errors.HasCode(err, errors.CodeValidation), "missing sheet: %v", err)
}

func TestXLSXDecodeErrors(t *testing.T) {
	_, err := XLSX{}.Decode(strings.NewReader("Name,Unit price\n"), items)
	assert.True(t, errors.HasCode(err, errors.CodeValidation), "not a workbook: %v", err)

	var buf bytes.Buffer
	require.NoError(t, XLSX{}.Encode(&buf, items[:1], nil))
	_, err = XLSX{}.Decode(&buf, items)
	assert.True(t, errors.HasCode(err, errors.CodeValidation), "missing column: %v", err)

	err = XLSX{}.Encode(&bytes.Buffer{}, nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeValidation))
}

func TestDecodeMatchesHeadersLoosely(t *testing.T) {
	in := "\ufeffextra; NAME ;price\nx;Widget;3\n\n"
	recs, err := CSV{Comma: ';'}.Decode(strings.NewReader(in), items[:2])
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{"name": "Widget", "price": "3"}, recs[0])
}

func TestDecodeErrors(t *testing.T) {
	_, err := CSV{}.Decode(strings.NewReader(""), items)
	assert.True(t, errors.HasCode(err, errors.CodeValidation), "empty: %v", err)

	_, err = CSV{}.Decode(strings.NewReader("Name\nx\n"), items)
	assert.True(t, errors.HasCode(err, errors.CodeValidation), "missing column: %v", err)
}

func TestRowsRejectsUnknownField(t *testing.T) {
	_, err := Rows(rowSchema, []ExportItem{{Field: "colour"}}, nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidQuery))
}

func TestEncodeRequiresItems(t *testing.T) {
	err := CSV{}.Encode(&bytes.Buffer{}, nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeValidation))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Put(ctx, "../exports/items.csv", []byte("a,b"), "text/csv")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "-items.csv"), id)
	assert.True(t, validID(id))

	data, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a,b", string(data))

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestMinioStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set")
	}
	ctx := context.Background()
	s, err := OpenMinio(ctx, MinioOptions{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "cloudless-test",
		Prefix:    "exports",
	})
	require.NoError(t, err)

	id, err := s.Put(ctx, "items.csv", []byte("x"), "text/csv")
	require.NoError(t, err)
	data, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestOpenMinioRequiresBucket(t *testing.T) {
	_, err := OpenMinio(context.Background(), MinioOptions{Endpoint: "localhost:9000"})
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))
}
