package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const maxPartBytes = 64 << 20

const (
	docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	pptxMimeType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	odtMimeType  = "application/vnd.oasis.opendocument.text"
	odsMimeType  = "application/vnd.oasis.opendocument.spreadsheet"
	odpMimeType  = "application/vnd.oasis.opendocument.presentation"
)

// layout names the XML elements that carry structure in one package format.
type layout struct {
	paragraph string
	text      string
	lineBreak string
	tab       string
	table     string
	row       string
	cell      string
}

var (
	wordLayout = layout{paragraph: "p", text: "t", lineBreak: "br", tab: "tab", table: "tbl", row: "tr", cell: "tc"}
	drawLayout = layout{paragraph: "p", text: "t", lineBreak: "br", table: "tbl", row: "tr", cell: "tc"}
	odfLayout  = layout{paragraph: "p", lineBreak: "line-break", tab: "tab", table: "table", row: "table-row", cell: "table-cell"}
)

// Extractor reads zipped XML office packages: OOXML documents and slides
// and OpenDocument text, spreadsheets and presentations.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "office" }

func (e *Extractor) Supports(mimeType string) bool {
	switch domain.BaseMimeType(mimeType) {
	case docxMimeType, pptxMimeType, odtMimeType, odsMimeType, odpMimeType:
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	archive, err := zip.NewReader(bytes.NewReader(req.Content), int64(len(req.Content)))
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("open office package: %w", err)
	}

	var parts []string
	var lay layout
	switch domain.BaseMimeType(req.MimeType) {
	case docxMimeType:
		parts, lay = []string{"word/document.xml"}, wordLayout
	case pptxMimeType:
		parts, lay = slideParts(archive), drawLayout
	default:
		parts, lay = []string{"content.xml"}, odfLayout
	}
	if len(parts) == 0 {
		return ports.ExtractResult{}, fmt.Errorf("office package has no content parts")
	}

	result := ports.ExtractResult{
		PageCount:  1,
		Confidence: 0.9,
	}
	if domain.BaseMimeType(req.MimeType) == pptxMimeType {
		result.PageCount = len(parts)
	}

	var b strings.Builder
	for i, name := range parts {
		if err := ctx.Err(); err != nil {
			return ports.ExtractResult{}, fmt.Errorf("read %s: %w", name, err)
		}
		raw, err := readPart(archive, name)
		if err != nil {
			return ports.ExtractResult{}, err
		}
		text, tables, err := walk(raw, lay)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Part %s is malformed: %v", name, err))
			result.Confidence = 0.6
		}
		if len(parts) > 1 {
			fmt.Fprintf(&b, "Slide %d\n", i+1)
		}
		b.WriteString(text)
		b.WriteString("\n")
		result.Tables = append(result.Tables, tables...)
		if req.Progress != nil {
			req.Progress((i + 1) * 100 / len(parts))
		}
	}
	result.Text = strings.TrimSpace(b.String())
	return result, nil
}

func slideParts(archive *zip.Reader) []string {
	type slide struct {
		name string
		n    int
	}
	var slides []slide
	for _, f := range archive.File {
		dir, base := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(base, "slide") || !strings.HasSuffix(base, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{name: f.Name, n: n})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	out := make([]string, 0, len(slides))
	for _, s := range slides {
		out = append(out, s.name)
	}
	return out
}

func readPart(archive *zip.Reader, name string) ([]byte, error) {
	f, err := archive.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", name, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxPartBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", name, err)
	}
	if len(raw) > maxPartBytes {
		return nil, fmt.Errorf("part %s exceeds %d bytes", name, maxPartBytes)
	}
	return raw, nil
}

// walk streams the XML once, building running text and one table per table
// element. Cell text also flows into the running text, tab separated.
func walk(raw []byte, lay layout) (string, []domain.Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false

	var (
		text      strings.Builder
		tables    []domain.Table
		table     domain.Table
		row       []string
		cell      strings.Builder
		tableNest int
		inCell    bool
		inText    int
	)
	write := func(s string) {
		if inCell {
			cell.WriteString(s)
			return
		}
		text.WriteString(s)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), tables, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case lay.text:
				inText++
			case lay.lineBreak:
				write("\n")
			case lay.tab:
				write("\t")
			case lay.table:
				tableNest++
				if tableNest == 1 {
					table = nil
				}
			case lay.row:
				if tableNest == 1 {
					row = nil
				}
			case lay.cell:
				if tableNest == 1 {
					inCell = true
					cell.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case lay.text:
				inText--
			case lay.paragraph:
				if inCell {
					cell.WriteString(" ")
				} else {
					text.WriteString("\n")
				}
			case lay.cell:
				if tableNest == 1 && inCell {
					row = append(row, strings.Join(strings.Fields(cell.String()), " "))
					inCell = false
				}
			case lay.row:
				if tableNest == 1 && hasContent(row) {
					table = append(table, row)
					text.WriteString(strings.Join(row, "\t"))
					text.WriteString("\n")
				}
			case lay.table:
				if tableNest == 1 && len(table) > 0 {
					tables = append(tables, table)
				}
				tableNest--
			}
		case xml.CharData:
			if lay.text == "" || inText > 0 {
				write(string(t))
			}
		}
	}
	return text.String(), tables, nil
}

func hasContent(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return true
		}
	}
	return false
}
