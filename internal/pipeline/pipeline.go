// Package pipeline turns an uploaded contract into a persisted analysis:
// it records the upload, extracts its text, asks a provider for the
// structured fields and commits the terminal state, reporting progress
// as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"contractflow/internal/blob"
	"contractflow/internal/extract"
	"contractflow/internal/logger"
	"contractflow/internal/models"
	"contractflow/internal/service/ai"
	"contractflow/internal/service/contracts"
	"contractflow/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrEmptyExtraction means the document parsed but held no text.
	ErrEmptyExtraction = errors.New("text extraction produced no content")
	// ErrInvalidRequest wraps Start's validation failures.
	ErrInvalidRequest  = errors.New("invalid upload")
	errBusy            = errors.New("server is busy, please retry")
	errShuttingDown    = errors.New("server is shutting down, please retry later")
)

var (
	ingestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractflow_ingestions_total",
		Help: "Finished ingestions by provider and outcome.",
	}, []string{"provider", "outcome"})
	ingestionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contractflow_ingestion_duration_seconds",
		Help:    "Time from job start to terminal commit.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider"})
)

// Store persists contract records.
type Store interface {
	Create(ctx context.Context, ownerID int64, filename, provider string) (*models.Contract, error)
	SetStorageKey(ctx context.Context, id int64, key string) error
	Finalize(ctx context.Context, id int64, r contracts.Result) error
}

// Providers resolves a provider id and runs it.
type Providers interface {
	Extract(ctx context.Context, text, providerID string) (ai.Document, error)
}

// Submitter queues background jobs. *worker.Dispatcher satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Archiver keeps a copy of the original upload. *blob.Store satisfies it.
type Archiver interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// textExtractor is replaced in tests.
var textExtractor = extract.Text

// Pipeline runs ingestions on the dispatcher.
type Pipeline struct {
	store     Store
	providers Providers
	jobs      Submitter
	archive   Archiver
}

// New builds a pipeline. archive may be nil to skip archiving.
func New(store Store, providers Providers, jobs Submitter, archive Archiver) *Pipeline {
	return &Pipeline{store: store, providers: providers, jobs: jobs, archive: archive}
}

// Request is one upload to ingest.
type Request struct {
	Owner    *models.User
	Filename string
	Content  []byte
	Provider string
}

func (r Request) validate() error {
	switch {
	case r.Owner == nil:
		return fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Filename) == "":
		return fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	case len(r.Content) == 0:
		return fmt.Errorf("%w: file is empty", ErrInvalidRequest)
	case strings.TrimSpace(r.Provider) == "":
		return fmt.Errorf("%w: ai provider is required", ErrInvalidRequest)
	}
	return nil
}

// Start records the upload as PENDING and schedules the analysis. The
// returned error is only set when no record was created.
func (p *Pipeline) Start(ctx context.Context, req Request) (*Run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	c, err := p.store.Create(ctx, req.Owner.ID, req.Filename, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}
	run := newRun(c)
	run.emit(Event{Stage: StageStarted, Text: "started, filename=" + req.Filename})

	// the analysis outlives the request that started it
	jobCtx := context.WithoutCancel(ctx)
	err = p.jobs.Submit(worker.Job{
		Type:    worker.Run,
		OwnerID: req.Owner.ID,
		Name:    fmt.Sprintf("contract-%d", c.ID),
		Task: func(context.Context) {
			p.execute(jobCtx, run, req)
		},
	})
	if err != nil {
		reason := err
		switch {
		case errors.Is(err, worker.ErrDispatcherBusy):
			reason = errBusy
		case errors.Is(err, worker.ErrDispatcherClosed):
			reason = errShuttingDown
		}
		logger.FromContext(ctx).Warn("ingestion not scheduled", "contract_id", c.ID, "error", err)
		p.finish(jobCtx, run, req, nil, reason, time.Now())
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *Run, req Request) {
	started := time.Now()
	var (
		doc     ai.Document
		failure error
	)
	defer func() {
		if rec := recover(); rec != nil {
			logger.FromContext(ctx).Error("ingestion panicked",
				"contract_id", run.Contract.ID, "panic", rec, "stack", string(debug.Stack()))
			doc, failure = nil, fmt.Errorf("internal error: %v", rec)
		}
		p.finish(ctx, run, req, doc, failure, started)
	}()

	p.archiveUpload(ctx, run.Contract, req)

	run.emit(Event{Stage: StageExtracting, Text: "extracting text"})
	text, err := textExtractor(ctx, req.Content, req.Filename)
	if err != nil {
		failure = err
		return
	}
	if strings.TrimSpace(text) == "" {
		failure = ErrEmptyExtraction
		return
	}

	run.emit(Event{Stage: StageAnalyzing, Text: "analyzing with " + req.Provider})
	doc, failure = p.providers.Extract(ctx, text, req.Provider)
}

// archiveUpload stores the original bytes; failures only cost the archive copy.
func (p *Pipeline) archiveUpload(ctx context.Context, c *models.Contract, req Request) {
	if p.archive == nil {
		return
	}
	key := blob.ObjectKey(req.Owner.UUID, c.ID, req.Filename, c.CreatedAt)
	if err := p.archive.Put(ctx, key, req.Content, blob.ContentType(req.Filename)); err != nil {
		logger.FromContext(ctx).Warn("archive upload failed", "contract_id", c.ID, "error", err)
		return
	}
	if err := p.store.SetStorageKey(ctx, c.ID, key); err != nil {
		logger.FromContext(ctx).Warn("record storage key failed", "contract_id", c.ID, "error", err)
		// an object nobody points at is never cleaned up otherwise
		if err := p.archive.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).Warn("remove orphaned archive", "key", key, "error", err)
		}
	}
}

// finish commits the terminal state and closes the run. It runs exactly
// once per run.
func (p *Pipeline) finish(ctx context.Context, run *Run, req Request, doc ai.Document, failure error, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx).With("contract_id", run.Contract.ID, "provider", req.Provider)

	out := Outcome{ContractID: run.Contract.ID, Status: models.StatusSuccess, Data: doc}
	final := Event{Stage: StageSucceeded, Text: "succeeded, filename=" + req.Filename}
	result := contracts.Result{Status: models.StatusSuccess, Data: doc}
	if failure != nil {
		out = Outcome{ContractID: run.Contract.ID, Status: models.StatusError, Err: failure}
		final = Event{Stage: StageFailed, Text: "error: " + failure.Error()}
		result = contracts.Result{Status: models.StatusError, Summary: failure.Error()}
	}

	if err := p.store.Finalize(ctx, run.Contract.ID, result); err != nil {
		log.Error("commit ingestion result", "error", err)
		out = Outcome{ContractID: run.Contract.ID, Status: models.StatusPending, Err: err}
		final = Event{Stage: StageFailed, Text: "error: could not save the analysis result"}
	}

	outcome := "success"
	if out.Status != models.StatusSuccess {
		outcome = "error"
	}
	ingestionsTotal.WithLabelValues(req.Provider, outcome).Inc()
	ingestionDuration.WithLabelValues(req.Provider).Observe(time.Since(started).Seconds())
	if failure != nil {
		log.Info("ingestion failed", "reason", failure)
	} else {
		log.Info("ingestion succeeded", "duration", time.Since(started))
	}

	run.complete(final, out)
}
