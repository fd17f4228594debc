package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type repoFake struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	history map[string][]domain.Document
	saveErr error
}

func newRepoFake() *repoFake {
	return &repoFake{
		docs:    map[string]*domain.Document{},
		history: map[string][]domain.Document{},
	}
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; ok {
		return fmt.Errorf("duplicate id %s", doc.ID)
	}
	f.docs[doc.ID] = doc.Clone()
	f.history[doc.ID] = append(f.history[doc.ID], *doc.Clone())
	return nil
}

func (f *repoFake) Save(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.docs[doc.ID] = doc.Clone()
	f.history[doc.ID] = append(f.history[doc.ID], *doc.Clone())
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	return doc.Clone(), nil
}

func (f *repoFake) List(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		if filter.Matches(doc) {
			out = append(out, *doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return []domain.Document{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *repoFake) FindEarlierDuplicate(_ context.Context, target *domain.Document) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.Fingerprint == target.Fingerprint && doc.ID != target.ID && doc.UploadedBefore(target) {
			return doc.Clone(), nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *repoFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *repoFake) snapshots(id string) []domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Document{}, f.history[id]...)
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	openErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type journalFake struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (f *journalFake) Append(entry domain.LogEntry) domain.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.Seq = uint64(len(f.entries) + 1)
	entry.Timestamp = time.Now().UTC()
	f.entries = append(f.entries, entry)
	return entry
}

func (f *journalFake) Snapshot() []domain.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LogEntry{}, f.entries...)
}

func (f *journalFake) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

func (f *journalFake) forDocument(id string) []domain.LogEntry {
	var out []domain.LogEntry
	for _, entry := range f.Snapshot() {
		if entry.DocumentID == id {
			out = append(out, entry)
		}
	}
	return out
}

type dispatcherFake struct {
	mu   sync.Mutex
	docs []string
	err  error
}

func (f *dispatcherFake) Dispatch(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc.ID)
	return nil
}

// executorFake runs fn for one stage; a nil fn returns an empty patch.
type executorFake struct {
	stage domain.Stage
	fn    func(ctx context.Context, in ports.StageInput) (domain.StagePatch, error)
}

func (f executorFake) Stage() domain.Stage { return f.stage }

func (f executorFake) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	if f.fn == nil {
		return domain.StagePatch{}, nil
	}
	return f.fn(ctx, in)
}

func fakeExecutors(overrides map[domain.Stage]func(context.Context, ports.StageInput) (domain.StagePatch, error)) []ports.StageExecutor {
	out := make([]ports.StageExecutor, 0, len(domain.PipelineStages))
	for _, stage := range domain.PipelineStages {
		out = append(out, executorFake{stage: stage, fn: overrides[stage]})
	}
	return out
}

type metricsFake struct {
	mu       sync.Mutex
	started  int
	finished map[domain.DocumentStatus]int
	stages   map[string]int
	rejected map[domain.RejectionReason]int
}

func newMetricsFake() *metricsFake {
	return &metricsFake{
		finished: map[domain.DocumentStatus]int{},
		stages:   map[string]int{},
		rejected: map[domain.RejectionReason]int{},
	}
}

func (m *metricsFake) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *metricsFake) RunFinished(status domain.DocumentStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[status]++
}

func (m *metricsFake) StageObserved(stage domain.Stage, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage.String()+"/"+outcome]++
}

func (m *metricsFake) UploadRejected(reason domain.RejectionReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *metricsFake) ObserveQueueLag(time.Duration) {}
