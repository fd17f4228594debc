package extractor

import (
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/archive"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/email"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/image"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/legacy"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/office"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/spreadsheet"
)

// Registry picks a content extractor by MIME type. Extractors registered
// later take precedence; the fallback serves anything unmatched.
type Registry struct {
	mu         sync.RWMutex
	extractors []ports.ContentExtractor
	fallback   ports.ContentExtractor
}

func NewRegistry(fallback ports.ContentExtractor, extractors ...ports.ContentExtractor) *Registry {
	return &Registry{
		extractors: extractors,
		fallback:   fallback,
	}
}

func (r *Registry) Register(extractor ports.ContentExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, extractor)
}

// Resolve returns the extractor for mimeType without consulting the fallback.
func (r *Registry) Resolve(mimeType string) (ports.ContentExtractor, bool) {
	base := domain.BaseMimeType(mimeType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.extractors) - 1; i >= 0; i-- {
		if r.extractors[i].Supports(base) {
			return r.extractors[i], true
		}
	}
	return nil, false
}

// For returns the matching extractor or the fallback. The boolean reports
// whether the fallback was used.
func (r *Registry) For(mimeType string) (ports.ContentExtractor, bool) {
	if extractor, ok := r.Resolve(mimeType); ok {
		return extractor, false
	}
	return r.fallback, true
}

// Default wires every built-in extractor. Zip members are extracted through
// the same registry.
func Default(maxArchiveMembers int, maxMemberBytes int64) *Registry {
	registry := NewRegistry(
		legacy.NewExtractor(),
		legacy.NewExtractor(),
		plaintext.NewExtractor(),
		htmltext.NewExtractor(),
		pdftext.NewExtractor(),
		spreadsheet.NewExtractor(),
		office.NewExtractor(),
		email.NewExtractor(),
		image.NewExtractor(),
	)
	registry.Register(archive.NewExtractor(registry, maxArchiveMembers, maxMemberBytes))
	return registry
}
