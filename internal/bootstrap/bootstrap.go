package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/classifier"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/eventlog"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/memory"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/stages"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
	"github.com/kirillkom/document-pipeline/internal/observability/tracing"
)

// Version is stamped at build time with -ldflags "-X .../bootstrap.Version=...".
var Version = "dev"

type App struct {
	Config config.Config
	Logger *slog.Logger

	Repo     ports.DocumentRepository
	Objects  ports.ObjectStorage
	Chunks   ports.ChunkStore
	Journal  *eventlog.Journal
	Pipeline *usecase.Pipeline
	Triggers *stages.TriggerExecutor
	IngestUC *usecase.IngestDocumentUseCase
	QueryUC  *usecase.QueryUseCase
	Metrics  *metrics.PipelineMetrics

	// Queue is nil unless dispatch or trigger publishing goes through NATS.
	Queue *nats.Queue

	closers []func(context.Context) error
}

type stores struct {
	repo   ports.DocumentRepository
	chunks ports.ChunkStore
	sinks  []ports.LogSink
	db     *sql.DB
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Service:     cfg.ServiceName,
		Version:     Version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	app.Metrics = metrics.NewPipelineMetrics(cfg.ServiceName)
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		BreakerEnabled:      cfg.BreakerEnabled,
		OnRetry: func(operation string, attempt int, err error) {
			logger.Warn("retry_attempt", "operation", operation, "attempt", attempt, "error", err)
			app.Metrics.RetryAttempted(operation, attempt, err)
		},
		OnStateChange: func(operation, from, to string) {
			logger.Warn("breaker_state_changed", "operation", operation, "from", from, "to", to)
			app.Metrics.BreakerStateChanged(operation, from, to)
		},
	})

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if st.db != nil {
		db := st.db
		app.closers = append(app.closers, func(context.Context) error { return db.Close() })
	}
	app.Repo = st.repo
	app.Chunks = st.chunks

	app.Objects, err = openObjects(cfg)
	if err != nil {
		return nil, err
	}

	app.Journal = eventlog.NewJournal(eventlog.Options{
		Retention: cfg.LogRetention,
		Logger:    logger,
		Sinks:     st.sinks,
	})

	if cfg.UsesNATS() {
		app.Queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			TriggerPrefix:      cfg.TriggerSubjectPrefix,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		queue := app.Queue
		app.closers = append(app.closers, func(context.Context) error {
			queue.Close()
			return nil
		})
	}

	taxonomy, err := classifier.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	var docClassifier ports.DocumentClassifier = classifier.NewRules(taxonomy)
	if cfg.OllamaEnabled {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, time.Duration(cfg.OllamaTimeoutSeconds)*time.Second, executor)
		docClassifier = classifier.NewFallback(ollama.NewClassifier(client, taxonomy.DocumentTypes()), docClassifier, logger)
	}

	deps := stages.Dependencies{
		Repository: app.Repo,
		Extractors: extractor.Default(cfg.ArchiveMaxMembers, cfg.ArchiveMaxMemberBytes),
		Classifier: docClassifier,
		Chunker:    chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Chunks:     app.Chunks,
		Metadata: stages.MetadataOptions{
			LowWordCount:    cfg.LowWordCount,
			HighValueAmount: cfg.HighValueAmount,
		},
	}
	if cfg.PublishTriggers && app.Queue != nil {
		deps.Publisher = app.Queue
	}
	if cfg.Neo4jURI != "" {
		indexer, err := neo4j.New(ctx, neo4j.Options{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
			Executor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init entity graph: %w", err)
		}
		app.closers = append(app.closers, indexer.Close)
		deps.Graph = indexer
	}
	set := stages.New(deps)
	app.Triggers = set.Triggers

	app.Pipeline, err = usecase.NewPipeline(app.Repo, app.Objects, app.Journal, set.Executors, usecase.PipelineOptions{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		StageTimeout:      time.Duration(cfg.StageTimeoutSeconds) * time.Second,
		Metrics:           app.Metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	var dispatcher ports.PipelineDispatcher = app.Pipeline
	if cfg.DispatchMode == config.DispatchNATS {
		dispatcher = app.Queue
	}
	app.IngestUC = usecase.NewIngestDocumentUseCase(app.Repo, app.Objects, dispatcher, app.Journal, usecase.IngestOptions{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        app.Metrics,
		Logger:         logger,
	})
	app.QueryUC = usecase.NewQueryUseCase(app.Repo, app.Chunks)

	logger.Info("bootstrap_complete",
		"store_backend", cfg.StoreBackend,
		"object_backend", cfg.ObjectBackend,
		"dispatch_mode", cfg.DispatchMode,
		"llm_classifier", cfg.OllamaEnabled,
		"entity_graph", deps.Graph != nil,
		"publish_triggers", deps.Publisher != nil,
	)
	ready = true
	return app, nil
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return stores{
			repo:   memory.NewDocumentRepository(),
			chunks: memory.NewChunkStore(),
		}, nil
	case config.StorePostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("ensure schema: %w", err)
		}
		return stores{
			repo:   postgres.NewDocumentRepository(db),
			chunks: postgres.NewChunkStore(db),
			sinks:  []ports.LogSink{postgres.NewLogSink(db)},
			db:     db,
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openObjects(cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.ObjectBackend {
	case config.ObjectsMemory:
		return memory.NewObjectStorage(), nil
	case config.ObjectsLocal:
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
	}
}

// Close waits for in-process runs and releases every connection in reverse
// order of acquisition.
func (a *App) Close() {
	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil && a.Logger != nil {
		a.Logger.Warn("shutdown_incomplete", "error", err)
	}
}
