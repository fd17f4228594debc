// Package stages holds the six executors the pipeline orchestrator runs.
package stages

import (
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Dependencies wires the executors. Graph and Publisher are optional.
type Dependencies struct {
	Repository ports.DocumentRepository
	Extractors ExtractorResolver
	Classifier ports.DocumentClassifier
	Chunker    ports.Chunker
	Chunks     ports.ChunkStore
	Graph      ports.GraphIndexer
	Publisher  ports.TriggerPublisher
	Metadata   MetadataOptions
}

// Set is the full executor chain plus handles for runtime customization.
type Set struct {
	Executors []ports.StageExecutor
	Triggers  *TriggerExecutor
}

// New builds the executors in pipeline order.
func New(deps Dependencies) Set {
	triggers := NewTriggerExecutor(deps.Publisher)
	return Set{
		Executors: []ports.StageExecutor{
			NewIngestExecutor(deps.Repository),
			NewExtractExecutor(deps.Extractors),
			NewNormalizeExecutor(),
			NewMetadataExecutor(deps.Classifier, deps.Metadata),
			NewStorageExecutor(deps.Chunker, deps.Chunks, deps.Graph),
			triggers,
		},
		Triggers: triggers,
	}
}
