package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/cloudless/internal/app/domain/item"
	"github.com/R3E-Network/cloudless/internal/app/transfer"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// ExportParams selects the rows, columns and file name of an export.
type ExportParams struct {
	Search   Search                `json:"search"`
	Items    []transfer.ExportItem `json:"items"`
	FileName string                `json:"fileName"`
}

// ExportResult identifies the stored file.
type ExportResult struct {
	FileID string `json:"fileId"`
	Rows   int    `json:"rows"`
}

// ImportParams names an uploaded file. Items maps file headers to fields
// and defaults to name, code and status.
type ImportParams struct {
	FileID string                `json:"fileId"`
	Items  []transfer.ExportItem `json:"items,omitempty"`
}

// ImportResult reports how many rows were inserted.
type ImportResult struct {
	Inserted int `json:"inserted"`
}

var defaultImportItems = []transfer.ExportItem{
	{Field: "name", Title: "Name"},
	{Field: "code", Title: "Code"},
	{Field: "status", Title: "Status"},
}

// Export writes every item matching the search to the file store. Paging
// in the search is ignored.
func (s *Service) Export(ctx context.Context, in ExportParams) (ExportResult, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return ExportResult{}, errors.Validation("fileName", "file name is required")
	}
	if len(in.Items) == 0 {
		return ExportResult{}, errors.Validation("items", "at least one export item is required")
	}

	rows, err := s.searchBuilder(in.Search).OrderByDesc(item.ID).Query(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	cells, err := transfer.Rows(item.Schema, in.Items, rows)
	if err != nil {
		return ExportResult{}, err
	}

	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, in.Items, cells); err != nil {
		return ExportResult{}, err
	}
	if ext := s.codec.Extension(); !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	id, err := s.files.Put(ctx, name, buf.Bytes(), s.codec.ContentType())
	if err != nil {
		return ExportResult{}, err
	}

	s.log.WithContext(ctx).Infof("exported %d items to %s", len(rows), id)
	return ExportResult{FileID: id, Rows: len(rows)}, nil
}

// Import inserts every row of a stored file through Insert, stopping at the
// first failing row. Rows before it stay inserted.
func (s *Service) Import(ctx context.Context, in ImportParams) (ImportResult, error) {
	if in.FileID == "" {
		return ImportResult{}, errors.Validation("fileId", "file id is required")
	}
	items := in.Items
	if len(items) == 0 {
		items = defaultImportItems
	}
	for _, it := range items {
		if _, ok := item.Schema.Column(it.Field); !ok {
			return ImportResult{}, errors.InvalidQuery(fmt.Sprintf("unknown import field %q", it.Field))
		}
	}

	data, err := s.files.Get(ctx, in.FileID)
	if err != nil {
		return ImportResult{}, err
	}
	records, err := s.codec.Decode(bytes.NewReader(data), items)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for i, rec := range records {
		it := fromRecord(rec)
		if err := s.Insert(ctx, it); err != nil {
			// Header is line 1.
			line := i + 2
			if se := errors.GetServiceError(err); se != nil {
				return res, se.WithDetails("line", line)
			}
			return res, fmt.Errorf("import line %d: %w", line, err)
		}
		res.Inserted++
	}
	s.log.WithContext(ctx).Infof("imported %d items from %s", res.Inserted, in.FileID)
	return res, nil
}

func fromRecord(rec transfer.Record) *item.Item {
	it := &item.Item{Name: rec["name"], Code: rec["code"]}
	it.ID = rec["id"]
	it.Status = rec["status"]
	return it
}
