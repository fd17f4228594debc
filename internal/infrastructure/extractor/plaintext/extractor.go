package plaintext

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor handles text-based formats: plain text, markdown, JSON, XML and RTF.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "plaintext" }

func (e *Extractor) Supports(mimeType string) bool {
	switch domain.BaseMimeType(mimeType) {
	case "text/plain", "text/markdown", "application/json", "application/xml", "text/xml", "application/rtf":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(_ context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	text, warnings := DecodeText(req.Content)
	result := ports.ExtractResult{
		PageCount:     1,
		Confidence:    0.95,
		KeyValuePairs: map[string]string{},
		Warnings:      warnings,
	}
	if len(warnings) > 0 {
		result.Confidence = 0.8
	}

	switch domain.BaseMimeType(req.MimeType) {
	case "application/json":
		pairs, err := jsonScalars(text)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("JSON could not be parsed: %v", err))
			result.Confidence = 0.6
		}
		for k, v := range pairs {
			result.KeyValuePairs[k] = v
		}
	case "application/xml", "text/xml":
		stripped, err := xmlText(text)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("XML is not well-formed: %v", err))
			result.Confidence = 0.6
		} else {
			text = stripped
		}
	case "application/rtf":
		text = rtfText(text)
		result.Confidence = 0.8
	}

	if req.Progress != nil {
		req.Progress(100)
	}
	result.Text = strings.TrimSpace(text)
	return result, nil
}

// DecodeText returns raw as UTF-8. UTF-16 with a BOM is transcoded; other
// invalid input is read as Windows-1252.
func DecodeText(raw []byte) (string, []string) {
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, _, err := transform.Bytes(decoder, raw); err == nil {
			return string(out), nil
		}
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�"), []string{"Text is not valid UTF-8; invalid bytes were replaced"}
	}
	return string(out), []string{"Text is not valid UTF-8; decoded as Windows-1252"}
}

// jsonScalars flattens top-level and nested scalar fields into dotted keys.
func jsonScalars(text string) (map[string]string, error) {
	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	var walk func(prefix string, v any, depth int)
	walk = func(prefix string, v any, depth int) {
		if depth > 3 || len(out) >= 50 {
			return
		}
		switch typed := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(typed))
			for k := range typed {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, typed[k], depth+1)
			}
		case []any:
		case nil:
		default:
			if prefix != "" {
				out[prefix] = fmt.Sprint(typed)
			}
		}
	}
	walk("", root, 0)
	return out, nil
}

func xmlText(text string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				b.WriteString(s)
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}

var (
	rtfGroupPattern   = regexp.MustCompile(`\{\\\*[^{}]*\}`)
	rtfControlPattern = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfHexPattern     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
)

func rtfText(text string) string {
	text = rtfGroupPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer(`\pard`, "", `\par`, "\n", `\line`, "\n", `\tab`, "\t").Replace(text)
	text = rtfHexPattern.ReplaceAllString(text, "")
	text = rtfControlPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer("{", "", "}", "", `\\`, `\`).Replace(text)
	return text
}
