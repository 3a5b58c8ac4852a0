// Package worker implements the stage execution loop over the task queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
	"github.com/ginza777/file-box/internal/metrics"
)

// Runner executes one stage task and returns the follow-up task, if any.
type Runner interface {
	Run(ctx context.Context, task document.Task) (*document.Task, error)
}

// Worker consumes queue tasks and executes pipeline stages, scheduling
// retries with backoff and recording terminal failures on the document.
type Worker struct {
	queue  document.Queue
	store  document.Store
	runner Runner
	policy document.RetryPolicy
	logger *zap.Logger

	// after is time.After, swappable in tests to avoid real sleeps.
	after func(d time.Duration) <-chan time.Time

	pending sync.WaitGroup
}

// New constructs a Worker.
func New(
	queue document.Queue,
	store document.Store,
	runner Runner,
	policy document.RetryPolicy,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:  queue,
		store:  store,
		runner: runner,
		policy: policy,
		logger: logger,
		after:  time.After,
	}
}

// Run blocks, consuming queue tasks until the context finishes. Scheduled
// retries still waiting on their backoff are drained before returning.
func (w *Worker) Run(ctx context.Context) {
	defer w.pending.Wait()
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("document_id", task.DocumentID.String()),
			zap.String("stage", string(task.Stage)),
			zap.Int("attempt", task.Attempt))
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task document.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	next, err := w.runner.Run(ctx, task)
	elapsed := time.Since(start)

	if err == nil {
		metrics.ObserveStage(string(task.Stage), metrics.OutcomeOK, elapsed)
		if next != nil {
			if err := w.queue.Enqueue(ctx, *next); err != nil {
				w.logger.Error("enqueue next stage failed",
					zap.String("document_id", next.DocumentID.String()),
					zap.String("stage", string(next.Stage)),
					zap.Error(err))
			}
		}
		return
	}

	if errors.Is(err, document.ErrDocumentLocked) {
		// Another worker holds the row. Back off without burning an attempt.
		metrics.ObserveStage(string(task.Stage), metrics.OutcomeLocked, elapsed)
		w.schedule(ctx, task, w.policy.Backoff(task.Attempt+1))
		return
	}

	attempts := task.Attempt + 1
	if w.policy.ShouldRetry(err, attempts) {
		delay := w.policy.Backoff(attempts)
		var rl *document.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		w.logger.Warn("stage failed, retry scheduled",
			zap.String("document_id", task.DocumentID.String()),
			zap.String("stage", string(task.Stage)),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.ObserveStage(string(task.Stage), metrics.OutcomeRetry, elapsed)
		metrics.ObserveRetry(string(task.Stage))
		retry := task
		retry.Attempt = attempts
		w.schedule(ctx, retry, delay)
		return
	}

	metrics.ObserveStage(string(task.Stage), metrics.OutcomeFailed, elapsed)
	w.recordFailure(ctx, task, err)
}

// schedule re-enqueues the task after the delay, abandoning it when the
// context finishes first.
func (w *Worker) schedule(ctx context.Context, task document.Task, delay time.Duration) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		select {
		case <-ctx.Done():
		case <-w.after(delay):
			if err := w.queue.Enqueue(ctx, task); err != nil && ctx.Err() == nil {
				w.logger.Error("re-enqueue failed",
					zap.String("document_id", task.DocumentID.String()),
					zap.String("stage", string(task.Stage)),
					zap.Error(err))
			}
		}
	}()
}

// recordFailure persists the terminal failure reason on the document so
// operators can see why processing stopped.
func (w *Worker) recordFailure(ctx context.Context, task document.Task, cause error) {
	w.logger.Error("stage failed permanently",
		zap.String("document_id", task.DocumentID.String()),
		zap.String("stage", string(task.Stage)),
		zap.Int("attempts", task.Attempt+1),
		zap.Error(cause))

	reason := cause.Error()
	upd := document.Update{DownloadError: &reason}
	if task.Stage == document.StageDownload {
		failed := document.DownloadFailed
		upd.DownloadStatus = &failed
	}
	if err := w.store.Update(ctx, task.DocumentID, upd); err != nil {
		w.logger.Error("record failure update failed",
			zap.String("document_id", task.DocumentID.String()),
			zap.Error(err))
	}
}

// Pool fans out queue work to a fixed set of workers.
type Pool struct {
	workers []*Worker
}

// NewPool creates a Pool.
func NewPool(workers []*Worker) *Pool {
	return &Pool{workers: workers}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
