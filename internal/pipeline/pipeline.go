package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/business-contact-scraper/internal/dedup"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/scraper"
)

// Sink persists runs and their records.
type Sink interface {
	CreateRun(ctx context.Context, run *models.Run) error
	MarkProcessing(ctx context.Context, runID string) error
	SaveBusiness(ctx context.Context, runID string, b models.Business) error
	CompleteRun(ctx context.Context, runID string, total int) error
	FailRun(ctx context.Context, runID, reason string) error
}

// Notifier is told about every run that reached a terminal state.
type Notifier interface {
	RunFinished(ctx context.Context, result *models.RunResult) error
}

// SessionFactory acquires a fresh browsing session for one run.
type SessionFactory func(ctx context.Context) (scraper.Session, error)

// Orchestrator drives runs through Pending, Processing and a terminal state.
// Each run gets its own session and its own deduplicator; nothing is shared
// between runs, so Execute may be called concurrently.
type Orchestrator struct {
	connectors map[models.SourceTag]scraper.Connector
	sessions   SessionFactory
	sink       Sink
	notifier   Notifier
	logger     *slog.Logger
}

func New(sessions SessionFactory, sink Sink, logger *slog.Logger, connectors ...scraper.Connector) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		connectors: make(map[models.SourceTag]scraper.Connector, len(connectors)),
		sessions:   sessions,
		sink:       sink,
		logger:     logger.With("component", "pipeline"),
	}
	for _, c := range connectors {
		o.connectors[c.Source()] = c
	}
	return o
}

// WithNotifier sets the terminal state notifier.
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// Supports reports whether a connector is registered for the source.
func (o *Orchestrator) Supports(source models.SourceTag) bool {
	_, ok := o.connectors[source]
	return ok
}

// Start validates the request and records a pending run.
func (o *Orchestrator) Start(ctx context.Context, req models.Request) (*models.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !o.Supports(req.Source) {
		return nil, fmt.Errorf("no connector registered for source %q", req.Source)
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Keyword:   req.Label(),
		Location:  req.Location,
		Source:    req.Source,
		Status:    models.RunPending,
		CreatedAt: time.Now(),
	}
	if err := o.sink.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	o.logger.Info("Run created", "run_id", run.ID, "source", run.Source, "keyword", run.Keyword)
	return run, nil
}

// Run starts and executes a run synchronously.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) (*models.RunResult, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, run, req), nil
}

// Execute moves a pending run to Completed or Failed. It always returns a
// result with a terminal status; panics inside the connector are recovered
// and reported as failures.
func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, req models.Request) (result *models.RunResult) {
	logger := o.logger.With("run_id", run.ID, "source", req.Source)
	// status updates must land even when the run itself was cancelled
	statusCtx := context.WithoutCancel(ctx)

	result = &models.RunResult{
		RunID:  run.ID,
		Source: req.Source,
		Status: models.RunProcessing,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Run panicked", "panic", r)
			o.fail(statusCtx, run, result, fmt.Sprintf("internal error: %v", r))
		}
		o.notify(statusCtx, result)
	}()

	if err := o.sink.MarkProcessing(statusCtx, run.ID); err != nil {
		logger.Warn("Failed to mark run as processing", "error", err)
	}
	run.Status = models.RunProcessing

	connector, ok := o.connectors[req.Source]
	if !ok {
		o.fail(statusCtx, run, result, fmt.Sprintf("no connector registered for source %q", req.Source))
		return result
	}

	start := time.Now()
	session, err := o.sessions(ctx)
	if err != nil {
		logger.Error("Failed to create browser session", "error", err)
		o.fail(statusCtx, run, result, fmt.Sprintf("failed to start browser session: %v", err))
		return result
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Failed to close browser session", "error", err)
		}
	}()

	agg := dedup.NewAggregator(req.MaxResults, o.logger)
	if err := connector.Run(ctx, session, req, agg); err != nil {
		logger.Error("Connector aborted", "error", err)
		o.fail(statusCtx, run, result, fmt.Sprintf("%s run aborted: %v", req.Source, err))
		return result
	}

	records := agg.Records()
	saved := 0
	for _, b := range records {
		if err := o.sink.SaveBusiness(statusCtx, run.ID, b); err != nil {
			logger.Warn("Failed to save business", "name", b.Name, "error", err)
			continue
		}
		saved++
	}

	if err := o.sink.CompleteRun(statusCtx, run.ID, len(records)); err != nil {
		logger.Warn("Failed to mark run as completed", "error", err)
	}

	run.Status = models.RunCompleted
	run.TotalResults = len(records)
	result.Status = models.RunCompleted
	result.Total = len(records)
	result.Records = records

	logger.Info("Run completed",
		"total_results", len(records),
		"saved", saved,
		"duration", time.Since(start).Round(time.Millisecond))
	return result
}

func (o *Orchestrator) fail(ctx context.Context, run *models.Run, result *models.RunResult, reason string) {
	if err := o.sink.FailRun(ctx, run.ID, reason); err != nil {
		o.logger.Warn("Failed to mark run as failed", "run_id", run.ID, "error", err)
	}
	run.Status = models.RunFailed
	run.ErrorMessage = reason
	result.Status = models.RunFailed
	result.Reason = reason
	result.Total = 0
	result.Records = nil
}

func (o *Orchestrator) notify(ctx context.Context, result *models.RunResult) {
	if o.notifier == nil || !result.Status.Terminal() {
		return
	}
	if err := o.notifier.RunFinished(ctx, result); err != nil {
		o.logger.Warn("Failed to publish run event", "run_id", result.RunID, "error", err)
	}
}
