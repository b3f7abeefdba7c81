package transfer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/R3E-Network/cloudless/internal/errors"
)

// XLSX is a spreadsheet Codec. Encode writes a header row followed by one
// row per entity on a single sheet; Decode reads the first sheet unless
// Sheet names another.
type XLSX struct {
	Sheet string
}

func (XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSX) Extension() string { return ".xlsx" }

func (x XLSX) Encode(w io.Writer, items []ExportItem, rows [][]string) error {
	if len(items) == 0 {
		return errors.Validation("items", "at least one export item is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if x.Sheet != "" && x.Sheet != sheet {
		if err := f.SetSheetName(sheet, x.Sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
		sheet = x.Sheet
	}

	if err := writeRow(f, sheet, 1, headers(items)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for n, row := range rows {
		if len(row) != len(items) {
			return fmt.Errorf("row %d has %d cells, want %d", n, len(row), len(items))
		}
		if err := writeRow(f, sheet, n+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", n, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// writeRow stores cells as strings so values read back exactly as formatted.
func writeRow(f *excelize.File, sheet string, line int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func (x XLSX) Decode(r io.Reader, items []ExportItem) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Validation("file", fmt.Sprintf("open workbook: %v", err))
	}
	defer f.Close()

	sheet := x.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, errors.Validation("file", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Validation("file", fmt.Sprintf("read sheet %s: %v", sheet, err))
	}
	return records(rows, items)
}
