package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func TestDefaultResolvesByMimeType(t *testing.T) {
	registry := Default(0, 0)
	cases := map[string]string{
		"application/pdf":           "pdf",
		"text/plain; charset=utf-8": "plaintext",
		"text/html":                 "html",
		"text/csv":                  "spreadsheet",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       "spreadsheet",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "office",
		"message/rfc822":     "email",
		"image/webp":         "image",
		"application/zip":    "archive",
		"application/msword": "legacy",
	}
	for mimeType, want := range cases {
		got, fallback := registry.For(mimeType)
		if fallback {
			t.Fatalf("%s: unexpected fallback", mimeType)
		}
		if got.Name() != want {
			t.Fatalf("%s: expected %s, got %s", mimeType, want, got.Name())
		}
	}

	got, fallback := registry.For("application/x-unknown")
	if !fallback || got.Name() != "legacy" {
		t.Fatalf("expected legacy fallback, got %s (fallback=%v)", got.Name(), fallback)
	}
}

type stubExtractor struct{ name string }

func (s stubExtractor) Name() string                 { return s.name }
func (s stubExtractor) Supports(mimeType string) bool { return mimeType == "text/plain" }
func (s stubExtractor) Extract(context.Context, ports.ExtractRequest) (ports.ExtractResult, error) {
	return ports.ExtractResult{Text: s.name}, nil
}

func TestRegisterOverridesEarlierExtractors(t *testing.T) {
	registry := Default(0, 0)
	registry.Register(stubExtractor{name: "custom"})
	got, _ := registry.For("text/plain")
	if got.Name() != "custom" {
		t.Fatalf("expected custom extractor, got %s", got.Name())
	}
}

func TestArchiveExtractsMembersThroughRegistry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	members := map[string]string{
		"notes.txt":        "Board meeting agenda",
		"data/figures.csv": "q,amount\nQ1,100\n",
		"__MACOSX/._notes": "junk",
		"binary.exe":       "MZ\x00\x00",
	}
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	registry := Default(0, 0)
	archive, _ := registry.For("application/zip")
	result, err := archive.Extract(context.Background(), ports.ExtractRequest{
		Filename: "bundle.zip",
		MimeType: "application/zip",
		Content:  buf.Bytes(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(result.Text, "=== notes.txt ===\nBoard meeting agenda") {
		t.Fatalf("expected text member, got %q", result.Text)
	}
	if len(result.Tables) != 1 || result.Tables[0][1][1] != "100" {
		t.Fatalf("expected csv table, got %v", result.Tables)
	}
	if strings.Contains(result.Text, "junk") {
		t.Fatalf("hidden members should be ignored")
	}
	if result.PageCount != 2 {
		t.Fatalf("expected 2 extracted members, got %d", result.PageCount)
	}
	if result.Warnings[len(result.Warnings)-1] != "1 archive member(s) skipped" {
		t.Fatalf("unexpected warnings %v", result.Warnings)
	}
}

func TestArchiveEnforcesMemberLimit(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		w, _ := zw.Create(name)
		_, _ = w.Write([]byte("content " + name))
	}
	_ = zw.Close()

	registry := Default(2, 0)
	archive, _ := registry.For("application/zip")
	result, err := archive.Extract(context.Background(), ports.ExtractRequest{
		MimeType: "application/zip",
		Content:  buf.Bytes(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if strings.Contains(result.Text, "c.txt") {
		t.Fatalf("third member should not be read: %q", result.Text)
	}
	if !strings.Contains(result.Warnings[0], "only the first 2") {
		t.Fatalf("expected truncation warning, got %v", result.Warnings)
	}
}
