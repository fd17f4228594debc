package httpadapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type ingestFake struct {
	mu         sync.Mutex
	maxBytes   int
	failWith   error
	dispatched []string
}

func (f *ingestFake) Accept(_ context.Context, upload domain.Upload) (*domain.Document, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	raw, err := io.ReadAll(upload.Body)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(upload.Filename, ".exe") {
		return nil, domain.WrapError(domain.ErrUnsupportedType, "accept upload", fmt.Errorf("file %q", upload.Filename))
	}
	if f.maxBytes > 0 && len(raw) > f.maxBytes {
		return nil, domain.WrapError(domain.ErrTooLarge, "accept upload", fmt.Errorf("file %q", upload.Filename))
	}
	doc := domain.NewDocument("doc-"+upload.Filename, upload.Filename, "text/plain", int64(len(raw)), "fp", "key", time.Now().UTC())
	return doc, nil
}

func (f *ingestFake) DispatchBatch(_ context.Context, docs []*domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range docs {
		f.dispatched = append(f.dispatched, doc.ID)
	}
	return nil
}

type readerFake struct {
	docs   map[string]*domain.Document
	chunks map[string][]domain.Chunk
	err    error

	lastFilter domain.DocumentFilter
}

func (f *readerFake) List(_ context.Context, filter domain.DocumentFilter) ([]domain.DocumentSummary, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.DocumentSummary{}
	for _, doc := range f.docs {
		out = append(out, doc.Summarize())
	}
	return out, nil
}

func (f *readerFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	return doc, nil
}

func (f *readerFake) Stats(context.Context) (domain.Stats, error) {
	if f.err != nil {
		return domain.Stats{}, f.err
	}
	stats := domain.Stats{Categories: map[string]int{}}
	for _, doc := range f.docs {
		stats.Add(doc)
	}
	return stats, nil
}

func (f *readerFake) Chunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	if _, err := f.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return f.chunks[id], nil
}

type logsFake struct {
	entries    []domain.LogEntry
	live       []domain.LogEntry
	lastFilter domain.LogFilter
}

func (f *logsFake) ListLogs(filter domain.LogFilter) []domain.LogEntry {
	f.lastFilter = filter
	out := []domain.LogEntry{}
	for _, entry := range f.entries {
		if filter.Matches(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// Subscribe hands out the live entries and closes the channel, which ends a
// stream deterministically.
func (f *logsFake) Subscribe(int) (<-chan domain.LogEntry, func()) {
	ch := make(chan domain.LogEntry, len(f.live))
	for _, entry := range f.live {
		ch <- entry
	}
	close(ch)
	return ch, func() {}
}

type cancellerFake struct {
	active map[string]bool
}

func (f cancellerFake) Cancel(documentID string) error {
	if !f.active[documentID] {
		return domain.WrapError(domain.ErrRunNotActive, "cancel run", fmt.Errorf("document %s", documentID))
	}
	return nil
}

func completeDocument(id, category string) *domain.Document {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	doc := domain.NewDocument(id, id+".pdf", "application/pdf", 2048, "fp-"+id, "key-"+id, now)
	doc.Status = domain.StatusComplete
	doc.CurrentStage = domain.StageComplete
	doc.Category = category
	doc.WordCount = 120
	doc.ChunkCount = 2
	return doc
}

type testEnv struct {
	ingest *ingestFake
	reader *readerFake
	logs   *logsFake
}

func newTestEnv() *testEnv {
	return &testEnv{
		ingest: &ingestFake{},
		reader: &readerFake{docs: map[string]*domain.Document{}, chunks: map[string][]domain.Chunk{}},
		logs:   &logsFake{},
	}
}

func (e *testEnv) handler(cfg config.Config) http.Handler {
	return NewRouter(cfg, Services{
		Ingest:    e.ingest,
		Documents: e.reader,
		Logs:      e.logs,
		Runs:      cancellerFake{active: map[string]bool{"running": true}},
	}).Handler()
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestEnv().handler(cfg)
}
