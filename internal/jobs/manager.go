package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Executor creates and runs pipeline runs.
type Executor interface {
	Start(ctx context.Context, req models.Request) (*models.Run, error)
	Execute(ctx context.Context, run *models.Run, req models.Request) *models.RunResult
}

// Stats describes the background work.
type Stats struct {
	Queued  int   `json:"queued"`
	Active  int64 `json:"active"`
	Workers int   `json:"workers"`
}

// Manager runs submitted requests on a fixed pool of workers.
type Manager struct {
	exec    Executor
	queue   queue.Queue
	workers int
	active  atomic.Int64
	logger  *slog.Logger
}

func NewManager(exec Executor, q queue.Queue, workers int, logger *slog.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		exec:    exec,
		queue:   q,
		workers: workers,
		logger:  logger.With("component", "job_manager"),
	}
}

// Submit records a pending run and queues it for a worker.
func (m *Manager) Submit(ctx context.Context, req models.Request) (*models.Run, error) {
	run, err := m.exec.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := m.queue.Push(&queue.Task{Run: run, Request: req}); err != nil {
		return nil, fmt.Errorf("failed to queue run %s: %w", run.ID, err)
	}

	m.logger.Info("Run queued", "run_id", run.ID, "source", req.Source, "queued", m.queue.Size())
	return run, nil
}

// RunSync creates a run and executes it on the caller's goroutine.
func (m *Manager) RunSync(ctx context.Context, req models.Request) (*models.RunResult, error) {
	run, err := m.exec.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	m.active.Add(1)
	defer m.active.Add(-1)
	return m.exec.Execute(ctx, run, req), nil
}

// Start runs the workers until ctx is done or the queue is closed and
// drained.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Job workers started", "workers", m.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := range m.workers {
		g.Go(func() error {
			return m.work(ctx, i)
		})
	}

	err := g.Wait()
	m.logger.Info("Job workers stopped")
	return err
}

// Close stops accepting submissions.
func (m *Manager) Close() error {
	return m.queue.Close()
}

func (m *Manager) Stats() Stats {
	return Stats{
		Queued:  m.queue.Size(),
		Active:  m.active.Load(),
		Workers: m.workers,
	}
}

func (m *Manager) work(ctx context.Context, id int) error {
	logger := m.logger.With("worker", id)
	for {
		task, err := m.queue.Pop(ctx)
		switch {
		case errors.Is(err, queue.ErrQueueClosed):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return fmt.Errorf("worker %d: %w", id, err)
		}

		logger.Info("Processing run", "run_id", task.Run.ID, "source", task.Request.Source)
		m.active.Add(1)
		result := m.exec.Execute(ctx, task.Run, task.Request)
		m.active.Add(-1)
		logger.Info("Run finished", "run_id", result.RunID, "status", result.Status, "total_results", result.Total)
	}
}
