package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/plaintext"
)

const (
	emlMimeType = "message/rfc822"
	maxDepth    = 5
)

var headerKeys = []string{"From", "To", "Cc", "Subject", "Date"}

var wordDecoder = &mime.WordDecoder{}

// Extractor reads RFC 822 messages. Headers become key/value pairs; the
// plain text body is preferred and HTML bodies are rendered when no plain
// text part exists.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "email" }

func (e *Extractor) Supports(mimeType string) bool {
	return domain.BaseMimeType(mimeType) == emlMimeType
}

type bodies struct {
	plain       []string
	html        []string
	attachments []string
	warnings    []string
	tables      []domain.Table
}

func (e *Extractor) Extract(_ context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(req.Content))
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("read message: %w", err)
	}

	result := ports.ExtractResult{
		PageCount:     1,
		Confidence:    0.9,
		KeyValuePairs: map[string]string{},
	}
	var header strings.Builder
	for _, key := range headerKeys {
		value := decodeHeader(msg.Header.Get(key))
		if value == "" {
			continue
		}
		result.KeyValuePairs[key] = value
		fmt.Fprintf(&header, "%s: %s\n", key, value)
	}

	var collected bodies
	walkPart(&collected, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body, 0)

	body := strings.Join(collected.plain, "\n\n")
	if strings.TrimSpace(body) == "" {
		for _, raw := range collected.html {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
			if err != nil {
				collected.warnings = append(collected.warnings, fmt.Sprintf("HTML body could not be parsed: %v", err))
				continue
			}
			rendered := htmltext.FromDocument(doc)
			body += rendered.Text + "\n\n"
			collected.tables = append(collected.tables, rendered.Tables...)
		}
	}
	if len(collected.attachments) > 0 {
		result.KeyValuePairs["Attachments"] = strings.Join(collected.attachments, ", ")
	}

	result.Text = strings.TrimSpace(header.String() + "\n" + strings.TrimSpace(body))
	result.Tables = collected.tables
	result.Warnings = collected.warnings
	if len(collected.warnings) > 0 {
		result.Confidence = 0.7
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return result, nil
}

func walkPart(out *bodies, contentType, encoding, disposition string, body io.Reader, depth int) {
	if depth > maxDepth {
		out.warnings = append(out.warnings, "Message nesting too deep; inner parts skipped")
		return
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		reader := multipart.NewReader(body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out.warnings = append(out.warnings, fmt.Sprintf("Multipart body truncated: %v", err))
				return
			}
			walkPart(out, part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part.Header.Get("Content-Disposition"), part, depth+1)
		}
	}

	if name := attachmentName(disposition); name != "" {
		out.attachments = append(out.attachments, name)
		return
	}

	raw, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		out.warnings = append(out.warnings, fmt.Sprintf("Body part could not be decoded: %v", err))
		return
	}
	switch mediaType {
	case "text/plain":
		text, warnings := plaintext.DecodeText(raw)
		out.plain = append(out.plain, strings.TrimSpace(text))
		out.warnings = append(out.warnings, warnings...)
	case "text/html":
		text, _ := plaintext.DecodeText(raw)
		out.html = append(out.html, text)
	case emlMimeType:
		inner, err := mail.ReadMessage(bytes.NewReader(raw))
		if err != nil {
			out.warnings = append(out.warnings, fmt.Sprintf("Forwarded message could not be read: %v", err))
			return
		}
		walkPart(out, inner.Header.Get("Content-Type"), inner.Header.Get("Content-Transfer-Encoding"), "", inner.Body, depth+1)
	}
}

func attachmentName(disposition string) string {
	kind, dispParams, err := mime.ParseMediaType(disposition)
	if err == nil && kind == "attachment" {
		if name := dispParams["filename"]; name != "" {
			return decodeHeader(name)
		}
		return "unnamed"
	}
	if err == nil && kind == "inline" && dispParams["filename"] != "" {
		return decodeHeader(dispParams["filename"])
	}
	return ""
}

func decodeTransfer(encoding string, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}

func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}
