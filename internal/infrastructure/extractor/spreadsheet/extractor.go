package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvMimeType  = "text/csv"

	// maxRowsPerTable bounds how much of a sheet is kept as a table.
	maxRowsPerTable = 500
)

// Extractor turns workbooks and delimited files into tables and text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "spreadsheet" }

func (e *Extractor) Supports(mimeType string) bool {
	switch domain.BaseMimeType(mimeType) {
	case xlsxMimeType, csvMimeType:
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	if domain.BaseMimeType(req.MimeType) == csvMimeType {
		return extractCSV(req)
	}
	return extractWorkbook(ctx, req)
}

func extractWorkbook(ctx context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(req.Content))
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	result := ports.ExtractResult{
		PageCount:  len(sheets),
		Confidence: 0.95,
	}
	var b strings.Builder
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return ports.ExtractResult{}, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Sheet %q could not be read", sheet))
			continue
		}
		table := compactRows(rows)
		if len(table) > 0 {
			if len(table) > maxRowsPerTable {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Sheet %q truncated to %d rows", sheet, maxRowsPerTable))
				table = table[:maxRowsPerTable]
			}
			result.Tables = append(result.Tables, table)
			fmt.Fprintf(&b, "Sheet: %s\n", sheet)
			writeRows(&b, table)
		}
		if req.Progress != nil {
			req.Progress((i + 1) * 100 / len(sheets))
		}
	}
	result.Text = strings.TrimSpace(b.String())
	return result, nil
}

func extractCSV(req ports.ExtractRequest) (ports.ExtractResult, error) {
	content := bytes.TrimPrefix(req.Content, []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.Comma = sniffDelimiter(content)

	var rows [][]string
	var warnings []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("CSV parse stopped early: %v", err))
			break
		}
		rows = append(rows, record)
	}

	table := compactRows(rows)
	result := ports.ExtractResult{
		PageCount:  1,
		Confidence: 0.95,
		Warnings:   warnings,
	}
	if len(table) > 0 {
		if len(table) > maxRowsPerTable {
			warnings = append(warnings, fmt.Sprintf("CSV truncated to %d rows", maxRowsPerTable))
			result.Warnings = warnings
		}
		var b strings.Builder
		writeRows(&b, table)
		result.Text = strings.TrimSpace(b.String())
		result.Tables = []domain.Table{table[:min(len(table), maxRowsPerTable)]}
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return result, nil
}

func sniffDelimiter(content []byte) rune {
	line := content
	if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(candidate))); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

// compactRows trims cells and drops rows that are entirely empty.
func compactRows(rows [][]string) domain.Table {
	out := make(domain.Table, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		empty := true
		for i, cell := range row {
			cells[i] = strings.TrimSpace(cell)
			if cells[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return out
}

func writeRows(b *strings.Builder, rows domain.Table) {
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
}
