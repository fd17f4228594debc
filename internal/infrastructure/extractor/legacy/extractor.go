package legacy

import (
	"context"
	"strings"
	"unicode"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// minRunLength is the shortest printable run kept as text.
const minRunLength = 4

// Extractor recovers readable strings from binary formats that have no
// structured reader: legacy Word, Excel, PowerPoint and Outlook files. It
// also serves as the fallback for anything the registry cannot place.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "legacy" }

func (e *Extractor) Supports(mimeType string) bool {
	switch domain.BaseMimeType(mimeType) {
	case "application/msword", "application/vnd.ms-excel", "application/vnd.ms-powerpoint", "application/vnd.ms-outlook":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	runs := asciiRuns(req.Content)
	if err := ctx.Err(); err != nil {
		return ports.ExtractResult{}, err
	}
	if req.Progress != nil {
		req.Progress(50)
	}
	runs = append(runs, utf16Runs(req.Content)...)
	if req.Progress != nil {
		req.Progress(100)
	}

	result := ports.ExtractResult{
		Text:       strings.Join(dedupe(runs), "\n"),
		PageCount:  1,
		Confidence: 0.3,
		Warnings:   []string{"Binary format read heuristically; layout was not preserved"},
	}
	if result.Text == "" {
		result.Confidence = 0.1
	}
	return result, nil
}

func asciiRuns(data []byte) []string {
	var runs []string
	start := -1
	for i, c := range data {
		if c < 0x80 && printable(rune(c)) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = appendRun(runs, string(data[start:i]))
			start = -1
		}
	}
	if start >= 0 {
		runs = appendRun(runs, string(data[start:]))
	}
	return runs
}

// utf16Runs finds little-endian UTF-16 strings, common in OLE containers.
func utf16Runs(data []byte) []string {
	var runs []string
	var current []rune
	flush := func() {
		runs = appendRun(runs, string(current))
		current = current[:0]
	}
	for i := 0; i+1 < len(data); i += 2 {
		r := rune(data[i]) | rune(data[i+1])<<8
		if data[i+1] <= 0x04 && printable(r) {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return runs
}

func printable(r rune) bool {
	return r == '\t' || (r >= 0x20 && r != 0x7f && unicode.IsPrint(r))
}

func appendRun(runs []string, run string) []string {
	run = strings.TrimSpace(run)
	if len([]rune(run)) < minRunLength || !hasLetters(run) {
		return runs
	}
	return append(runs, run)
}

func hasLetters(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters*2 >= len([]rune(s))
}

func dedupe(runs []string) []string {
	seen := make(map[string]struct{}, len(runs))
	out := make([]string, 0, len(runs))
	for _, run := range runs {
		if _, ok := seen[run]; ok {
			continue
		}
		seen[run] = struct{}{}
		out = append(out, run)
	}
	return out
}
