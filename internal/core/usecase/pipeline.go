package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	defaultStageTimeout     = 2 * time.Minute
	defaultProgressInterval = 250 * time.Millisecond
)

// CancelledDetail is the error detail recorded for a cancelled run.
const CancelledDetail = "cancelled"

type PipelineOptions struct {
	// MaxConcurrentRuns caps simultaneous runs started via Start/Dispatch.
	// Zero means unbounded.
	MaxConcurrentRuns int
	StageTimeout      time.Duration
	ProgressInterval  time.Duration
	Metrics           ports.PipelineMetrics
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Now               func() time.Time
}

// Pipeline drives documents through the six stages. Each run owns its
// record; the repository and the journal are the only shared state.
type Pipeline struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	journal   ports.LogAggregator
	executors [len(domain.PipelineStages)]ports.StageExecutor

	limiter          *semaphore.Weighted
	stageTimeout     time.Duration
	progressInterval time.Duration
	metrics          ports.PipelineMetrics
	logger           *slog.Logger
	tracer           trace.Tracer
	now              func() time.Time

	mu     sync.Mutex
	active map[string]*runState
	wg     sync.WaitGroup
}

type runState struct {
	cancelled atomic.Bool
}

type stageOutcome struct {
	patch domain.StagePatch
	err   error
}

func NewPipeline(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	journal ports.LogAggregator,
	executors []ports.StageExecutor,
	opts PipelineOptions,
) (*Pipeline, error) {
	p := &Pipeline{
		repo:             repo,
		storage:          storage,
		journal:          journal,
		stageTimeout:     opts.StageTimeout,
		progressInterval: opts.ProgressInterval,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		tracer:           opts.Tracer,
		now:              opts.Now,
		active:           make(map[string]*runState),
	}

	for _, executor := range executors {
		stage := executor.Stage()
		if !stage.Executable() {
			return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", fmt.Errorf("no executor allowed for stage %s", stage))
		}
		if p.executors[stage] != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", fmt.Errorf("duplicate executor for stage %s", stage))
		}
		p.executors[stage] = executor
	}
	for _, stage := range domain.PipelineStages {
		if p.executors[stage] == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", fmt.Errorf("missing executor for stage %s", stage))
		}
	}

	if opts.MaxConcurrentRuns > 0 {
		p.limiter = semaphore.NewWeighted(int64(opts.MaxConcurrentRuns))
	}
	if p.stageTimeout <= 0 {
		p.stageTimeout = defaultStageTimeout
	}
	if p.progressInterval <= 0 {
		p.progressInterval = defaultProgressInterval
	}
	if p.metrics == nil {
		p.metrics = ports.NoopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/kirillkom/document-pipeline/pipeline")
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p, nil
}

// Dispatch implements ports.PipelineDispatcher by starting an in-process run.
func (p *Pipeline) Dispatch(ctx context.Context, doc *domain.Document) error {
	p.Start(ctx, doc)
	return nil
}

// Start runs doc in its own goroutine. The run outlives ctx cancellation;
// use Cancel to stop it at the next stage boundary. The run is registered
// before Start returns, so Cancel right after Start is never lost.
func (p *Pipeline) Start(ctx context.Context, doc *domain.Document) {
	if doc.Terminal() {
		return
	}
	state, ok := p.register(doc.ID)
	if !ok {
		p.logger.Info("pipeline_run_already_active", "document_id", doc.ID)
		return
	}
	runCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.runRegistered(runCtx, doc, state); err != nil {
			p.logger.Debug("pipeline_run_error", "document_id", doc.ID, "error", err)
		}
	}()
}

// Wait blocks until every run started with Start has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Cancel asks the run of documentID to stop at its next stage boundary.
func (p *Pipeline) Cancel(documentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.active[documentID]
	if !ok {
		return domain.WrapError(domain.ErrRunNotActive, "cancel run", fmt.Errorf("document %s", documentID))
	}
	state.cancelled.Store(true)
	return nil
}

// ProcessByID loads a record and runs it. Terminal or already running records
// are skipped so redelivered queue messages are harmless.
func (p *Pipeline) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := p.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Terminal() {
		p.logger.Info("pipeline_run_skipped", "document_id", documentID, "status", string(doc.Status))
		return nil
	}
	p.metrics.ObserveQueueLag(p.now().Sub(doc.UploadedAt))
	return p.Run(ctx, doc)
}

// Run blocks until doc reaches COMPLETE or ERROR. The returned error is the
// stage failure, if any, joined with persistence failures.
func (p *Pipeline) Run(ctx context.Context, doc *domain.Document) error {
	if doc.Terminal() {
		return nil
	}
	state, ok := p.register(doc.ID)
	if !ok {
		p.logger.Info("pipeline_run_already_active", "document_id", doc.ID)
		return nil
	}
	return p.runRegistered(ctx, doc, state)
}

func (p *Pipeline) runRegistered(ctx context.Context, doc *domain.Document, state *runState) error {
	defer p.unregister(doc.ID)

	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire run slot: %w", err)
		}
		defer p.limiter.Release(1)
	}

	doc = doc.Clone()
	doc.EnsureCollections()

	started := p.now()
	p.metrics.RunStarted()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.mime_type", doc.MimeType),
	))
	defer span.End()

	r := &run{
		pipeline: p,
		doc:      doc,
		state:    state,
		progress: &rate.Sometimes{Interval: p.progressInterval},
	}
	runErr := r.execute(ctx)

	duration := p.now().Sub(started)
	p.metrics.RunFinished(doc.Status, duration)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	p.logger.Info("pipeline_run_finished",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"status", string(doc.Status),
		"stage", doc.CurrentStage.String(),
		"duration_ms", duration.Milliseconds(),
	)
	return runErr
}

func (p *Pipeline) register(id string) (*runState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.active[id]; exists {
		return nil, false
	}
	state := &runState{}
	p.active[id] = state
	return state, true
}

func (p *Pipeline) unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// ActiveRuns returns the number of runs currently registered.
func (p *Pipeline) ActiveRuns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// run is the state of one document's orchestration.
type run struct {
	pipeline   *Pipeline
	doc        *domain.Document
	state      *runState
	progress   *rate.Sometimes
	persistErr error
}

func (r *run) execute(ctx context.Context) error {
	p := r.pipeline

	content, err := r.loadContent(ctx)
	if err != nil {
		return r.fail(ctx, domain.NewStageFailure(domain.StageIngest, err))
	}

	for r.doc.CurrentStage.Executable() {
		stage := r.doc.CurrentStage
		if r.cancelRequested(ctx) {
			r.cancel(ctx, stage)
			return errors.Join(domain.NewStageFailure(stage, errors.New(CancelledDetail)), r.persistErr)
		}

		r.log(stage.String(), domain.LevelInfo, fmt.Sprintf("Starting %s stage", strings.ToLower(stage.String())))
		patch, elapsed, err := r.executeStage(ctx, stage, content)
		p.metrics.StageObserved(stage, outcomeLabel(err), elapsed)
		if err != nil {
			return r.fail(ctx, err)
		}

		before := len(r.doc.Warnings)
		patch.Apply(r.doc)
		if err := r.doc.Advance(elapsed, p.now()); err != nil {
			return r.fail(ctx, domain.NewStageFailure(stage, err))
		}
		r.persist(ctx)

		for _, warning := range r.doc.Warnings[before:] {
			r.log(stage.String(), domain.LevelWarn, warning)
		}
		r.log(stage.String(), domain.LevelSuccess, StageSummary(stage, r.doc))
	}

	if err := r.doc.Complete(p.now()); err != nil {
		return r.fail(ctx, err)
	}
	r.persist(ctx)
	r.log(domain.LogStageComplete, domain.LevelSuccess,
		fmt.Sprintf("Document '%s' fully processed and indexed", r.doc.Filename))
	return r.persistErr
}

func (r *run) loadContent(ctx context.Context) ([]byte, error) {
	reader, err := r.pipeline.storage.Open(ctx, r.doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read stored document: %w", err)
	}
	return content, nil
}

// executeStage runs the executor off the orchestrator goroutine and waits for
// its outcome while applying progress ticks.
func (r *run) executeStage(ctx context.Context, stage domain.Stage, content []byte) (domain.StagePatch, time.Duration, error) {
	p := r.pipeline
	executor := p.executors[stage]

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stageTimeout)
	defer cancel()
	execCtx, span := p.tracer.Start(execCtx, "pipeline.stage", trace.WithAttributes(
		attribute.String("document.id", r.doc.ID),
		attribute.String("pipeline.stage", stage.String()),
	))
	defer span.End()

	var latest atomic.Int64
	notify := make(chan struct{}, 1)
	done := make(chan stageOutcome, 1)
	input := ports.StageInput{
		Document: r.doc.Clone(),
		Content:  content,
		Progress: func(percent int) {
			for {
				current := latest.Load()
				if int64(percent) <= current {
					return
				}
				if latest.CompareAndSwap(current, int64(percent)) {
					break
				}
			}
			select {
			case notify <- struct{}{}:
			default:
			}
		},
	}

	started := p.now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- stageOutcome{err: fmt.Errorf("executor panic: %v", rec)}
			}
		}()
		patch, err := executor.Execute(execCtx, input)
		done <- stageOutcome{patch: patch, err: err}
	}()

	finish := func(out stageOutcome) (domain.StagePatch, time.Duration, error) {
		elapsed := p.now().Sub(started)
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			return domain.StagePatch{}, elapsed, domain.NewStageFailure(stage, out.err)
		}
		return out.patch, elapsed, nil
	}

	for {
		select {
		case <-notify:
			r.applyProgress(ctx, int(latest.Load()))
		case out := <-done:
			return finish(out)
		case <-execCtx.Done():
			select {
			case out := <-done:
				return finish(out)
			default:
			}
			return finish(stageOutcome{err: fmt.Errorf("timed out after %s: %w", p.stageTimeout, execCtx.Err())})
		}
	}
}

func (r *run) applyProgress(ctx context.Context, percent int) {
	if !r.doc.SetProgress(percent, r.pipeline.now()) {
		return
	}
	r.progress.Do(func() {
		r.persist(ctx)
	})
}

func (r *run) cancelRequested(ctx context.Context) bool {
	return r.state.cancelled.Load() || ctx.Err() != nil
}

func (r *run) cancel(ctx context.Context, stage domain.Stage) {
	if err := r.doc.Fail(CancelledDetail, r.pipeline.now()); err != nil {
		return
	}
	r.persist(ctx)
	r.log(stage.String(), domain.LevelError, fmt.Sprintf("Pipeline cancelled before %s stage", strings.ToLower(stage.String())))
}

func (r *run) fail(ctx context.Context, cause error) error {
	stage := r.doc.CurrentStage
	var stageErr *domain.StageFailure
	if errors.As(cause, &stageErr) {
		stage = stageErr.Stage
	} else {
		cause = domain.NewStageFailure(stage, cause)
	}
	if err := r.doc.Fail(cause.Error(), r.pipeline.now()); err != nil {
		return errors.Join(cause, err)
	}
	r.persist(ctx)
	r.log(stage.String(), domain.LevelError, cause.Error())
	return errors.Join(cause, r.persistErr)
}

// persist stores a snapshot of the record. Writes are detached from ctx so a
// cancelled caller cannot leave the record half-updated.
func (r *run) persist(ctx context.Context) {
	if err := r.pipeline.repo.Save(context.WithoutCancel(ctx), r.doc.Clone()); err != nil {
		r.pipeline.logger.Error("pipeline_persist_failed", "document_id", r.doc.ID, "error", err)
		if r.persistErr == nil {
			r.persistErr = fmt.Errorf("persist document %s: %w", r.doc.ID, err)
		}
	}
}

func (r *run) log(stage string, level domain.LogLevel, message string) {
	r.pipeline.journal.Append(domain.LogEntry{
		DocumentID: r.doc.ID,
		Stage:      stage,
		Level:      level,
		Message:    message,
	})
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
