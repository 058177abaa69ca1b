package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// CSV
// ============================================================================

// CSVExtractor renders comma-separated data in the same tabular text form
// as spreadsheet sheets.
type CSVExtractor struct{}

func (e *CSVExtractor) Name() string { return "csv" }

func (e *CSVExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeCSV
}

func (e *CSVExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	// Ragged exports are common; let row widths vary.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv is empty")
	}

	columns := 0
	for _, row := range rows {
		if len(row) > columns {
			columns = len(row)
		}
	}

	return &Result{
		Text: renderTable(rows, maxSheetRows),
		Metadata: map[string]string{
			"rows":    strconv.Itoa(len(rows)),
			"columns": strconv.Itoa(columns),
		},
	}, nil
}
