package memory

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func newDoc(id, fingerprint string, uploaded time.Time) *domain.Document {
	return domain.NewDocument(id, id+".txt", "text/plain", 10, fingerprint, "k/"+id, uploaded)
}

func TestDocumentRepositoryIsolatesCopies(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	doc := newDoc("a", "fp", time.Now())
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	doc.Warnings = append(doc.Warnings, "mutated")

	got, err := repo.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("expected stored record unaffected by caller mutation, got %v", got.Warnings)
	}
	got.Warnings = append(got.Warnings, "again")
	again, _ := repo.GetByID(ctx, "a")
	if len(again.Warnings) != 0 {
		t.Fatalf("expected snapshot isolation, got %v", again.Warnings)
	}
}

func TestDocumentRepositoryCreateSaveErrors(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	doc := newDoc("a", "fp", time.Now())
	_ = repo.Create(ctx, doc)
	if err := repo.Create(ctx, doc); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input on duplicate create, got %v", err)
	}
	if err := repo.Save(ctx, newDoc("missing", "fp", time.Now())); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found on save, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDocumentRepositoryListOrdersAndPages(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = repo.Create(ctx, newDoc(id, id, base.Add(time.Duration(i)*time.Minute)))
	}

	all, _ := repo.List(ctx, domain.DocumentFilter{})
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}
	page, _ := repo.List(ctx, domain.DocumentFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("expected second record, got %v", ids(page))
	}
	empty, _ := repo.List(ctx, domain.DocumentFilter{Offset: 5})
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %v", ids(empty))
	}
}

func TestFindEarlierDuplicateOnlyLooksBackward(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	base := time.Now()
	first := newDoc("first", "same", base)
	second := newDoc("second", "same", base.Add(time.Second))
	_ = repo.Create(ctx, first)
	_ = repo.Create(ctx, second)

	got, err := repo.FindEarlierDuplicate(ctx, second)
	if err != nil || got.ID != "first" {
		t.Fatalf("expected first, got %v (%v)", got, err)
	}
	if _, err := repo.FindEarlierDuplicate(ctx, first); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected no earlier duplicate for first, got %v", err)
	}
	if _, err := repo.FindEarlierDuplicate(ctx, newDoc("lonely", "other", base)); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindEarlierDuplicateBreaksTimestampTiesByID(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	at := time.Now()
	a := newDoc("a", "same", at)
	b := newDoc("b", "same", at)
	_ = repo.Create(ctx, a)
	_ = repo.Create(ctx, b)

	if got, err := repo.FindEarlierDuplicate(ctx, b); err != nil || got.ID != "a" {
		t.Fatalf("expected a, got %v (%v)", got, err)
	}
	if _, err := repo.FindEarlierDuplicate(ctx, a); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected a to be the original, got %v", err)
	}
}

func TestChunkStoreReplaces(t *testing.T) {
	store := NewChunkStore()
	ctx := context.Background()
	_ = store.ReplaceChunks(ctx, "d", []domain.Chunk{{Index: 0}, {Index: 1}})
	_ = store.ReplaceChunks(ctx, "d", []domain.Chunk{{Index: 0}})
	got, _ := store.ListChunks(ctx, "d")
	if len(got) != 1 {
		t.Fatalf("expected replaced chunks, got %d", len(got))
	}
	if store.Backend() != Backend {
		t.Fatalf("unexpected backend %s", store.Backend())
	}
}

func TestObjectStorageRoundTrip(t *testing.T) {
	store := NewObjectStorage()
	ctx := context.Background()
	if err := store.Save(ctx, "k", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(ctx, "k")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if string(raw) != "hello" {
		t.Fatalf("expected hello, got %q", raw)
	}
	if _, err := store.Open(ctx, "missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
