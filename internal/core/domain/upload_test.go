package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestResolveMimeType(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		declared string
		sniffed  string
		want     string
	}{
		{name: "declared allowed", filename: "invoice.pdf", declared: "application/pdf", want: "application/pdf"},
		{name: "declared with params", filename: "notes", declared: "text/plain; charset=utf-8", want: "text/plain"},
		{name: "extension fallback", filename: "Report.DOCX", declared: "application/octet-stream", want: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{name: "missing mime", filename: "data.csv", declared: "", want: "text/csv"},
		{name: "sniff generic", filename: "upload", declared: "", sniffed: "text/plain; charset=utf-8", want: "text/plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveMimeType(tc.filename, tc.declared, func() string { return tc.sniffed })
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResolveMimeTypeRejectsUnknown(t *testing.T) {
	sniffCalled := false
	_, err := ResolveMimeType("archive.exe", "application/x-msdownload", func() string {
		sniffCalled = true
		return "text/plain"
	})
	if !IsKind(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if sniffCalled {
		t.Fatalf("expected sniffing to be skipped for a specific declared type")
	}
	reason, ok := RejectionReasonOf(err)
	if !ok || reason != RejectUnsupportedType {
		t.Fatalf("expected unsupported-type reason, got %q", reason)
	}

	_, err = ResolveMimeType("blob", "", func() string { return "application/octet-stream" })
	if !IsKind(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type for octet-stream sniff, got %v", err)
	}
}

func TestDocumentFilterMatches(t *testing.T) {
	doc := NewDocument("d", "Q4 Invoice.pdf", "application/pdf", 1, "f", "k", time.Now())
	doc.Category = "financial"
	doc.DocumentType = "invoice"
	doc.Keywords = []string{"payment"}

	cases := []struct {
		filter DocumentFilter
		want   bool
	}{
		{DocumentFilter{}, true},
		{DocumentFilter{Status: StatusProcessing}, true},
		{DocumentFilter{Status: StatusComplete}, false},
		{DocumentFilter{Category: "FINANCIAL"}, true},
		{DocumentFilter{DocumentType: "contract"}, false},
		{DocumentFilter{Search: "invoice"}, true},
		{DocumentFilter{Search: "pay"}, true},
		{DocumentFilter{Search: "resume"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(doc); got != tc.want {
			t.Fatalf("filter %+v: expected %v, got %v", tc.filter, tc.want, got)
		}
	}

	normalized := DocumentFilter{Limit: 10000, Offset: -3}.Normalized()
	if normalized.Limit != MaxListLimit || normalized.Offset != 0 {
		t.Fatalf("unexpected normalized filter: %+v", normalized)
	}
}

func TestStatsAdd(t *testing.T) {
	var stats Stats
	done := NewDocument("a", "a.txt", "text/plain", 1, "f", "k", time.Now())
	done.Status = StatusComplete
	done.WordCount = 100
	done.ChunkCount = 3
	done.Category = "financial"
	failed := NewDocument("b", "b.txt", "text/plain", 1, "f", "k", time.Now())
	failed.Status = StatusError
	running := NewDocument("c", "c.txt", "text/plain", 1, "f", "k", time.Now())

	for _, doc := range []*Document{done, failed, running} {
		stats.Add(doc)
	}
	if stats.Total != 3 || stats.Complete != 1 || stats.Failed != 1 || stats.Processing != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalWords != 100 || stats.TotalChunks != 3 || stats.Categories["financial"] != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
}

func TestNewStageFailureReusesSameStage(t *testing.T) {
	inner := NewStageFailure(StageMetadata, errTest("boom"))
	outer := NewStageFailure(StageMetadata, inner)
	if outer != inner {
		t.Fatalf("expected existing stage error to be reused")
	}
	if inner.Error() != "METADATA: boom" {
		t.Fatalf("unexpected message: %q", inner.Error())
	}
}

func TestStageFailureEndsRunInErrorStage(t *testing.T) {
	cause := errTest("deadline exceeded")
	err := fmt.Errorf("run: %w", NewStageFailure(StageExtract, cause))

	var failure *StageFailure
	if !errors.As(err, &failure) || failure.Stage != StageExtract {
		t.Fatalf("expected extract stage failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap, got %v", err)
	}

	doc := NewDocument("doc-1", "a.txt", "text/plain", 3, "abc", "key", time.Now())
	if err := doc.Fail(failure.Error(), time.Now()); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if doc.CurrentStage != StageError || doc.CurrentStage.String() != "ERROR" {
		t.Fatalf("expected ERROR stage, got %s", doc.CurrentStage)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
