// Package transfer moves result sets in and out of tabular files.
package transfer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// ExportItem maps a column to the title shown in the file header.
type ExportItem struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

func (i ExportItem) header() string {
	if i.Title != "" {
		return i.Title
	}
	return i.Field
}

// Record is one decoded row keyed by field name.
type Record map[string]string

// Codec encodes rows of formatted cells and decodes them back.
type Codec interface {
	ContentType() string
	Extension() string
	Encode(w io.Writer, items []ExportItem, rows [][]string) error
	Decode(r io.Reader, items []ExportItem) ([]Record, error)
}

// CSV is a comma-separated Codec with a header row.
type CSV struct {
	Comma rune
}

func (CSV) ContentType() string { return "text/csv" }

func (CSV) Extension() string { return ".csv" }

func (c CSV) Encode(w io.Writer, items []ExportItem, rows [][]string) error {
	if len(items) == 0 {
		return errors.Validation("items", "at least one export item is required")
	}
	cw := csv.NewWriter(w)
	if c.Comma != 0 {
		cw.Comma = c.Comma
	}
	if err := cw.Write(headers(items)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for n, row := range rows {
		if len(row) != len(items) {
			return fmt.Errorf("row %d has %d cells, want %d", n, len(row), len(items))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", n, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads a header row and maps each column to an item by title or
// field name.
func (c CSV) Decode(r io.Reader, items []ExportItem) ([]Record, error) {
	cr := csv.NewReader(r)
	if c.Comma != 0 {
		cr.Comma = c.Comma
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Validation("file", err.Error())
	}
	return records(rows, items)
}

// records maps the first row as a header onto items and returns the
// remaining non-blank rows. Columns matching no item are ignored; an item
// with no column is a validation error.
func records(rows [][]string, items []ExportItem) ([]Record, error) {
	if len(rows) == 0 {
		return nil, errors.Validation("file", "file is empty")
	}
	header := rows[0]

	positions := make(map[string]int, len(items))
	for _, item := range items {
		for col, h := range header {
			h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			if strings.EqualFold(h, item.header()) || strings.EqualFold(h, item.Field) {
				positions[item.Field] = col
				break
			}
		}
		if _, ok := positions[item.Field]; !ok {
			return nil, errors.Validation(item.Field, fmt.Sprintf("column %q not found in header", item.header()))
		}
	}

	var out []Record
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rec := make(Record, len(positions))
		for field, col := range positions {
			var cell string
			if col < len(row) {
				cell = strings.TrimSpace(row[col])
			}
			rec[field] = cell
		}
		out = append(out, rec)
	}
	return out, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func headers(items []ExportItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.header()
	}
	return out
}

// Rows formats the items' columns of each entity as cells.
func Rows[T table.Entity](schema *table.Schema[T], items []ExportItem, entities []T) ([][]string, error) {
	fields := make([]table.Field[T], len(items))
	for i, item := range items {
		f, ok := schema.Column(item.Field)
		if !ok {
			return nil, errors.InvalidQuery(fmt.Sprintf("unknown export field %q on %s", item.Field, schema.Name()))
		}
		fields[i] = f
	}
	rows := make([][]string, 0, len(entities))
	for _, e := range entities {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = FormatCell(f.Value(e))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FormatCell renders a column value for a file cell.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
