package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// XLSX
// ============================================================================

// Row cap per sheet. Spreadsheets used as knowledge sources are tables,
// not datasets; past this point extra rows only dilute retrieval.
const maxSheetRows = 2000

// XLSXExtractor renders each sheet as a header line plus numbered rows,
// the same tabular text shape the CSV extractor produces.
type XLSXExtractor struct{}

func (e *XLSXExtractor) Name() string { return "xlsx" }

func (e *XLSXExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeXLSX
}

func (e *XLSXExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var parts []string
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		text := renderTable(rows, maxSheetRows)
		if text == "" {
			continue
		}
		if len(sheets) > 1 {
			text = fmt.Sprintf("--- Sheet: %s ---\n%s", sheet, text)
		}
		parts = append(parts, text)
	}

	return &Result{
		Text: strings.Join(parts, "\n\n"),
		Metadata: map[string]string{
			"sheets": strconv.Itoa(len(sheets)),
		},
	}, nil
}

// renderTable formats tabular data as "Headers: ..." plus "Row i: ..."
// lines. The first non-empty row is taken as the header row.
func renderTable(rows [][]string, maxRows int) string {
	var b strings.Builder
	headerDone := false
	rowNum := 0
	for _, row := range rows {
		cells := trimRow(row)
		if len(cells) == 0 {
			continue
		}
		if !headerDone {
			b.WriteString("Headers: ")
			b.WriteString(strings.Join(cells, " | "))
			b.WriteByte('\n')
			headerDone = true
			continue
		}
		rowNum++
		if maxRows > 0 && rowNum > maxRows {
			b.WriteString("... (truncated)\n")
			break
		}
		b.WriteString(fmt.Sprintf("Row %d: %s\n", rowNum, strings.Join(cells, " | ")))
	}
	return strings.TrimSpace(b.String())
}

// trimRow drops trailing empty cells and normalizes the rest.
func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	if end == 0 {
		return nil
	}
	cells := make([]string, end)
	for i := 0; i < end; i++ {
		cells[i] = strings.TrimSpace(row[i])
	}
	return cells
}
