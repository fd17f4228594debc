package legacy

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestExtractFindsASCIIAndUTF16Runs(t *testing.T) {
	var content []byte
	content = append(content, 0xD0, 0xCF, 0x11, 0xE0, 0x00, 0x01)
	content = append(content, []byte("Quarterly budget review")...)
	content = append(content, 0x00, 0x00, 0xFF)
	content = append(content, utf16le("Prepared by Finance")...)
	content = append(content, 0x00, 0x00, 0x07, 0x00)
	content = append(content, []byte("a1")...)

	result, err := NewExtractor().Extract(context.Background(), ports.ExtractRequest{
		Filename: "old.doc",
		MimeType: "application/msword",
		Content:  content,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(result.Text, "Quarterly budget review") {
		t.Fatalf("expected ascii run, got %q", result.Text)
	}
	if !strings.Contains(result.Text, "Prepared by Finance") {
		t.Fatalf("expected utf-16 run, got %q", result.Text)
	}
	if strings.Contains(result.Text, "a1") {
		t.Fatalf("short runs should be dropped, got %q", result.Text)
	}
	if result.Confidence != 0.3 {
		t.Fatalf("expected confidence 0.3, got %v", result.Confidence)
	}
}

func TestExtractEmptyBinary(t *testing.T) {
	result, err := NewExtractor().Extract(context.Background(), ports.ExtractRequest{Content: []byte{0, 1, 2, 3}})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Text != "" || result.Confidence != 0.1 {
		t.Fatalf("expected empty low-confidence result, got %+v", result)
	}
}
