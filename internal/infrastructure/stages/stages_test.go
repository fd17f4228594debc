package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/classifier"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/eventlog"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/legacy"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/memory"
)

const invoiceText = `INVOICE
Invoice Number: INV-2024-0047
Vendor: Acme Corporation
Bill To: Globex Ltd
Amount Due: $125,000.00
Due Date: January 31, 2024
Payment Terms: Net 30

Contact billing@acme.com or call (212) 555-0100.
Prepared by John Smith.`

type pdfFake struct {
	text string
	err  error
}

func (f pdfFake) Name() string { return "pdf" }

func (f pdfFake) Supports(mimeType string) bool { return mimeType == "application/pdf" }

func (f pdfFake) Extract(_ context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	if f.err != nil {
		return ports.ExtractResult{}, f.err
	}
	if req.Progress != nil {
		req.Progress(50)
	}
	return ports.ExtractResult{Text: f.text, PageCount: 1, Confidence: 0.95}, nil
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
	fail   map[string]error
}

func (p *publisherFake) PublishTrigger(_ context.Context, event domain.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[event.Trigger]; err != nil {
		return err
	}
	p.events = append(p.events, event)
	return nil
}

type classifierFunc func(context.Context, ports.ClassifyRequest) (domain.Classification, error)

func (f classifierFunc) Classify(ctx context.Context, req ports.ClassifyRequest) (domain.Classification, error) {
	return f(ctx, req)
}

type graphFake struct{ err error }

func (g graphFake) IndexEntities(context.Context, *domain.Document) error { return g.err }

func input(doc *domain.Document, content []byte) ports.StageInput {
	return ports.StageInput{Document: doc, Content: content}
}

func newDoc(filename, mimeType string, content []byte) *domain.Document {
	return domain.NewDocument("doc-1", filename, mimeType, int64(len(content)),
		usecase.Fingerprint(content), "doc-1_"+filename, time.Now().UTC())
}

func TestIngestRejectsEmptyAndTamperedContent(t *testing.T) {
	exec := NewIngestExecutor(memory.NewDocumentRepository())
	doc := newDoc("a.txt", "text/plain", []byte("hello"))

	if _, err := exec.Execute(context.Background(), input(doc, nil)); err == nil {
		t.Fatalf("expected error for empty content")
	}
	if _, err := exec.Execute(context.Background(), input(doc, []byte("tampered"))); err == nil {
		t.Fatalf("expected fingerprint mismatch error")
	}
	patch, err := exec.Execute(context.Background(), input(doc, []byte("hello")))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(patch.Flags) != 0 || len(patch.Warnings) != 0 {
		t.Fatalf("expected clean patch, got %+v", patch)
	}
}

func TestIngestFlagsDuplicateContent(t *testing.T) {
	repo := memory.NewDocumentRepository()
	content := []byte("same bytes")
	earlier := domain.NewDocument("doc-0", "first.txt", "text/plain", 10, usecase.Fingerprint(content), "k", time.Now())
	if err := repo.Create(context.Background(), earlier); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	patch, err := NewIngestExecutor(repo).Execute(context.Background(), input(newDoc("second.txt", "text/plain", content), content))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(patch.Flags) != 1 || patch.Flags[0] != domain.FlagDuplicateContent {
		t.Fatalf("expected duplicate flag, got %v", patch.Flags)
	}
	if !strings.Contains(patch.Warnings[0], "first.txt") {
		t.Fatalf("expected warning to name the original, got %v", patch.Warnings)
	}
}

func TestExtractUsesFallbackAndFlagsEmptyText(t *testing.T) {
	registry := extractor.NewRegistry(legacy.NewExtractor())
	doc := newDoc("old.doc", "application/x-unknown", []byte{0, 1, 2})
	patch, err := NewExtractExecutor(registry).Execute(context.Background(), input(doc, []byte{0, 1, 2}))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	flags := strings.Join(patch.Flags, ",")
	if !strings.Contains(flags, domain.FlagFallbackExtractor) || !strings.Contains(flags, domain.FlagNoTextExtracted) {
		t.Fatalf("expected fallback and no-text flags, got %v", patch.Flags)
	}
}

func TestExtractFlagsImagesForOCR(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	doc := newDoc("scan.png", "image/png", buf.Bytes())

	patch, err := NewExtractExecutor(extractor.Default(0, 0)).Execute(context.Background(), input(doc, buf.Bytes()))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(strings.Join(patch.Flags, ","), domain.FlagOCRRequired) {
		t.Fatalf("expected ocr_required flag, got %v", patch.Flags)
	}
	if patch.Extraction.KeyValuePairs["Width"] != "4" {
		t.Fatalf("expected image dimensions, got %v", patch.Extraction.KeyValuePairs)
	}
}

func TestExtractWrapsExtractorFailure(t *testing.T) {
	registry := extractor.NewRegistry(legacy.NewExtractor(), pdfFake{err: errors.New("xref table broken")})
	doc := newDoc("bad.pdf", "application/pdf", []byte("%PDF"))
	_, err := NewExtractExecutor(registry).Execute(context.Background(), input(doc, []byte("%PDF")))
	if err == nil || !strings.Contains(err.Error(), "pdf extractor: xref table broken") {
		t.Fatalf("expected wrapped extractor error, got %v", err)
	}
}

func TestNormalizeCleansTextAndFindsEntities(t *testing.T) {
	doc := newDoc("a.txt", "text/plain", []byte("x"))
	doc.ExtractedText = "Amount Due:   $1,200.00\r\n\r\n\r\nMail ops@globex.io"
	doc.KeyValuePairs = map[string]string{"Amount Due": "  $1,200.00 "}

	patch, err := NewNormalizeExecutor().Execute(context.Background(), input(doc, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	n := patch.Normalization
	if n.Text != "Amount Due: $1,200.00\n\nMail ops@globex.io" {
		t.Fatalf("unexpected normalized text %q", n.Text)
	}
	if len(n.Emails) != 1 || len(n.MonetaryValues) != 1 {
		t.Fatalf("expected email and amount, got %+v", n)
	}
	if n.KeyValuePairs["Amount Due"] != "$1,200.00" {
		t.Fatalf("expected cleaned pair, got %q", n.KeyValuePairs["Amount Due"])
	}
}

func TestMetadataFlagsAndSummary(t *testing.T) {
	doc := newDoc("note.txt", "text/plain", []byte("x"))
	doc.NormalizedText = "Short invoice note"
	doc.WordCount = 3
	doc.ExtractionConfidence = 0.8
	doc.Phones = []string{"+12125550100"}
	doc.MonetaryValues = []domain.MonetaryValue{{Amount: 50000, Currency: "USD", Formatted: "USD 50,000.00"}}
	doc.Entities = []domain.Entity{{Type: "ORG", Normalized: "Acme Corporation"}}

	cls := classifierFunc(func(context.Context, ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{DocumentType: "financial_report", Category: "financial", Confidence: 0.6}, nil
	})
	patch, err := NewMetadataExecutor(cls, MetadataOptions{}).Execute(context.Background(), input(doc, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{domain.FlagLowWordCount, domain.FlagContainsPII, domain.FlagHighValue} {
		if !strings.Contains(strings.Join(patch.Flags, ","), want) {
			t.Fatalf("expected flag %s, got %v", want, patch.Flags)
		}
	}
	summary := patch.Enrichment.Classification.Summary
	if !strings.HasPrefix(summary, "Financial Report document from Acme Corporation.") || !strings.Contains(summary, "USD 50,000.00") {
		t.Fatalf("unexpected summary %q", summary)
	}
	if patch.Enrichment.OverallConfidence != 0.7 {
		t.Fatalf("expected overall confidence 0.7, got %v", patch.Enrichment.OverallConfidence)
	}
	if len(patch.Enrichment.Topics) == 0 {
		t.Fatalf("expected keyword topics when classifier has no tags")
	}
}

func TestMetadataPropagatesClassifierError(t *testing.T) {
	cls := classifierFunc(func(context.Context, ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{}, errors.New("model unavailable")
	})
	_, err := NewMetadataExecutor(cls, MetadataOptions{}).Execute(context.Background(), input(newDoc("a.txt", "text/plain", []byte("x")), nil))
	if err == nil || !strings.Contains(err.Error(), "classify: model unavailable") {
		t.Fatalf("expected classify error, got %v", err)
	}
}

func TestStorageReplacesChunksAndWarnsOnGraphFailure(t *testing.T) {
	store := memory.NewChunkStore()
	doc := newDoc("a.txt", "text/plain", []byte("x"))
	doc.NormalizedText = strings.Repeat("lorem ipsum dolor sit amet ", 20)
	doc.Entities = []domain.Entity{{Type: "ORG", Normalized: "Acme"}}

	exec := NewStorageExecutor(chunking.NewSplitter(100, 10), store, graphFake{err: errors.New("neo4j down")})
	for i := 0; i < 2; i++ {
		patch, err := exec.Execute(context.Background(), input(doc, nil))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if patch.Storage.Backend != memory.Backend || patch.Storage.ChunkCount < 2 {
			t.Fatalf("unexpected storage result %+v", patch.Storage)
		}
		if len(patch.Warnings) != 1 {
			t.Fatalf("expected graph warning, got %v", patch.Warnings)
		}
		chunks, _ := store.ListChunks(context.Background(), doc.ID)
		if len(chunks) != patch.Storage.ChunkCount {
			t.Fatalf("expected %d stored chunks after run %d, got %d", patch.Storage.ChunkCount, i, len(chunks))
		}
	}
}

func TestTriggerRoutingPicksFirstRoutedRule(t *testing.T) {
	cases := []struct {
		docType, category string
		want              []string
	}{
		{"invoice", "financial", []string{TriggerAccountsPayable, TriggerNotifyModule, TriggerKnowledgeBase}},
		{"financial_report", "financial", []string{TriggerFinancialForecast, TriggerNotifyModule, TriggerKnowledgeBase}},
		{"compliance_document", "compliance", []string{TriggerComplianceAlert, TriggerNotifyModule, TriggerKnowledgeBase}},
		{"contract", "legal", []string{TriggerNotifyModule, TriggerKnowledgeBase}},
	}
	for _, tc := range cases {
		doc := newDoc("a.txt", "text/plain", []byte("x"))
		doc.DocumentType, doc.Category = tc.docType, tc.category
		patch, err := NewTriggerExecutor(&publisherFake{}).Execute(context.Background(), input(doc, nil))
		if err != nil {
			t.Fatalf("%s: Execute() error = %v", tc.docType, err)
		}
		var got []string
		for _, trigger := range patch.Triggers {
			got = append(got, trigger.Name)
		}
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Fatalf("%s: expected %v, got %v", tc.docType, tc.want, got)
		}
	}
}

func TestTriggerPublishFailureIsRecordedNotFatal(t *testing.T) {
	publisher := &publisherFake{fail: map[string]error{TriggerNotifyModule: errors.New("nats: no responders")}}
	exec := NewTriggerExecutor(publisher)
	if err := exec.Register(TriggerRule{
		Name:    "archive_contract",
		Applies: func(doc *domain.Document) bool { return doc.Category == "legal" },
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	doc := newDoc("a.txt", "text/plain", []byte("x"))
	doc.DocumentType, doc.Category = "contract", "legal"

	patch, err := exec.Execute(context.Background(), input(doc, nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(patch.Triggers) != 3 {
		t.Fatalf("expected 3 triggers, got %+v", patch.Triggers)
	}
	if patch.Triggers[0].Status != domain.TriggerFailure || len(patch.Warnings) != 1 {
		t.Fatalf("expected failed notify trigger with warning, got %+v / %v", patch.Triggers[0], patch.Warnings)
	}
	if patch.Triggers[2].Name != "archive_contract" || patch.Triggers[2].Status != domain.TriggerSuccess {
		t.Fatalf("expected custom trigger to fire, got %+v", patch.Triggers[2])
	}
	if len(publisher.events) != 2 || publisher.events[0].IdempotencyKey() != "doc-1:"+TriggerKnowledgeBase {
		t.Fatalf("unexpected published events %+v", publisher.events)
	}
	if err := exec.Register(TriggerRule{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unnamed rule, got %v", err)
	}
}

type pipelineHarness struct {
	repo      *memory.DocumentRepository
	journal   *eventlog.Journal
	publisher *publisherFake
	ingest    *usecase.IngestDocumentUseCase
	pipeline  *usecase.Pipeline
}

func newHarness(t *testing.T, cls ports.DocumentClassifier) *pipelineHarness {
	t.Helper()
	repo := memory.NewDocumentRepository()
	objects := memory.NewObjectStorage()
	journal := eventlog.NewJournal(eventlog.Options{})
	publisher := &publisherFake{}
	registry := extractor.NewRegistry(legacy.NewExtractor(), pdfFake{text: invoiceText})
	set := New(Dependencies{
		Repository: repo,
		Extractors: registry,
		Classifier: cls,
		Chunker:    chunking.NewSplitter(200, 20),
		Chunks:     memory.NewChunkStore(),
		Publisher:  publisher,
	})
	pipeline, err := usecase.NewPipeline(repo, objects, journal, set.Executors, usecase.PipelineOptions{})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return &pipelineHarness{
		repo:      repo,
		journal:   journal,
		publisher: publisher,
		ingest:    usecase.NewIngestDocumentUseCase(repo, objects, pipeline, journal, usecase.IngestOptions{}),
		pipeline:  pipeline,
	}
}

// process runs one upload to a terminal state; stage failures surface on the
// returned record.
func (h *pipelineHarness) process(t *testing.T, filename string, content []byte) *domain.Document {
	t.Helper()
	doc, err := h.ingest.Accept(context.Background(), domain.Upload{
		Filename: filename,
		MimeType: "application/pdf",
		Size:     int64(len(content)),
		Body:     bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	_ = h.pipeline.Run(context.Background(), doc)
	got, err := h.repo.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return got
}

func TestInvoicePDFCompletesWithTriggers(t *testing.T) {
	h := newHarness(t, classifier.NewRules(classifier.DefaultTaxonomy()))
	doc := h.process(t, "invoice.pdf", []byte("%PDF-1.7 fake invoice"))

	if doc.Status != domain.StatusComplete || doc.CurrentStage != domain.StageComplete || doc.StageProgress != 100 {
		t.Fatalf("expected complete document, got %s/%s/%d (errors %v)", doc.Status, doc.CurrentStage, doc.StageProgress, doc.Errors)
	}
	if len(doc.Fingerprint) != 64 {
		t.Fatalf("expected 64-hex fingerprint, got %q", doc.Fingerprint)
	}
	if len(doc.StageTimings) != len(domain.PipelineStages) {
		t.Fatalf("expected %d timings, got %d", len(domain.PipelineStages), len(doc.StageTimings))
	}
	if doc.DocumentType != "invoice" || doc.Category != "financial" {
		t.Fatalf("expected invoice/financial, got %s/%s", doc.DocumentType, doc.Category)
	}
	if len(doc.Entities) == 0 || len(doc.MonetaryValues) == 0 || len(doc.Emails) != 1 {
		t.Fatalf("expected entities, amounts and contacts, got %+v", doc.Entities)
	}
	if doc.ChunkCount == 0 || doc.StorageBackend != memory.Backend {
		t.Fatalf("expected chunks in memory backend, got %d/%s", doc.ChunkCount, doc.StorageBackend)
	}
	success := 0
	for _, trigger := range doc.Triggers {
		if trigger.Status == domain.TriggerSuccess {
			success++
		}
	}
	if success != 3 || len(h.publisher.events) != 3 {
		t.Fatalf("expected 3 successful triggers, got %+v", doc.Triggers)
	}
	for _, flag := range []string{domain.FlagContainsPII, domain.FlagHighValue, domain.FlagLowWordCount} {
		if !doc.HasFlag(flag) {
			t.Fatalf("expected flag %s, got %v", flag, doc.ProcessingFlags)
		}
	}

	entries := h.journal.ListLogs(domain.LogFilter{DocumentID: doc.ID})
	last := entries[len(entries)-1]
	if last.Stage != domain.LogStageComplete || last.Message != "Document 'invoice.pdf' fully processed and indexed" {
		t.Fatalf("unexpected final log entry %+v", last)
	}
}

func TestSecondUploadIsFlaggedDuplicate(t *testing.T) {
	h := newHarness(t, classifier.NewRules(classifier.DefaultTaxonomy()))
	content := []byte("%PDF-1.7 same bytes")
	first := h.process(t, "invoice.pdf", content)
	second := h.process(t, "invoice-copy.pdf", content)

	if first.HasFlag(domain.FlagDuplicateContent) {
		t.Fatalf("first upload must not be a duplicate")
	}
	if !second.HasFlag(domain.FlagDuplicateContent) || second.Status != domain.StatusComplete {
		t.Fatalf("expected completed duplicate, got %s %v", second.Status, second.ProcessingFlags)
	}
}

func TestBatchUploadFlagsOnlyTheLaterCopy(t *testing.T) {
	h := newHarness(t, classifier.NewRules(classifier.DefaultTaxonomy()))
	content := []byte("%PDF-1.7 identical batch bytes")
	accept := func(name string) *domain.Document {
		doc, err := h.ingest.Accept(context.Background(), domain.Upload{
			Filename: name,
			MimeType: "application/pdf",
			Size:     int64(len(content)),
			Body:     bytes.NewReader(content),
		})
		if err != nil {
			t.Fatalf("Accept(%s) error = %v", name, err)
		}
		return doc
	}
	// Both records exist before either run starts, as with a multipart upload.
	a := accept("a.pdf")
	b := accept("b.pdf")
	_ = h.pipeline.Run(context.Background(), b)
	_ = h.pipeline.Run(context.Background(), a)

	original, copied := a, b
	if b.UploadedBefore(a) {
		original, copied = b, a
	}
	gotOriginal, _ := h.repo.GetByID(context.Background(), original.ID)
	gotCopy, _ := h.repo.GetByID(context.Background(), copied.ID)

	if gotOriginal.HasFlag(domain.FlagDuplicateContent) {
		t.Fatalf("original %s flagged as duplicate of a later upload: %v", gotOriginal.Filename, gotOriginal.Warnings)
	}
	if !gotCopy.HasFlag(domain.FlagDuplicateContent) {
		t.Fatalf("expected %s to be flagged duplicate, got %v", gotCopy.Filename, gotCopy.ProcessingFlags)
	}
	if !strings.Contains(strings.Join(gotCopy.Warnings, " "), gotOriginal.Filename) {
		t.Fatalf("expected warning to name %s, got %v", gotOriginal.Filename, gotCopy.Warnings)
	}
}

func TestMetadataFailureStopsAtThirdTiming(t *testing.T) {
	cls := classifierFunc(func(context.Context, ports.ClassifyRequest) (domain.Classification, error) {
		return domain.Classification{}, fmt.Errorf("taxonomy unavailable")
	})
	h := newHarness(t, cls)
	doc := h.process(t, "invoice.pdf", []byte("%PDF-1.7 broken metadata"))

	if doc.Status != domain.StatusError || len(doc.StageTimings) != 3 {
		t.Fatalf("expected error after 3 timings, got %s with %d", doc.Status, len(doc.StageTimings))
	}
	if len(doc.Errors) != 1 || !strings.Contains(doc.Errors[0], "taxonomy unavailable") {
		t.Fatalf("expected classifier error detail, got %v", doc.Errors)
	}
	if len(h.publisher.events) != 0 {
		t.Fatalf("no trigger may fire for a failed run")
	}
}
