// Package worker runs extraction tasks delivered by the queue. Each delivery
// moves the document for its fingerprint through pending, completed or
// failed, mirrors the outcome into the status cache and records the task
// state. Failed attempts are republished after a fixed delay until the
// attempt cap is reached.
//
// Deliveries are at least once, so every step tolerates repeats: the
// document row is owned by one task at a time, a completed document is
// never reprocessed, and a failed document, or a pending one whose owner was
// revoked, is reclaimed by exactly one later task.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/tracing"
)

// Store is the durable state the worker reads and writes.
type Store interface {
	GetByHash(ctx context.Context, hash string) (*document.Document, error)
	Create(ctx context.Context, hash, fileName string, content []byte, taskID string) (*document.Document, error)
	ClaimFailed(ctx context.Context, id int64, taskID string) (bool, error)
	ClaimRevoked(ctx context.Context, id int64, owner, taskID string) (bool, error)
	SetStatus(ctx context.Context, id int64, status document.Status) error
	Complete(ctx context.Context, documentID int64, markdown string, embeddings json.RawMessage) error
	RecordTask(ctx context.Context, u store.TaskUpdate) (bool, error)
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// StatusCache receives the fast-path status for a fingerprint.
type StatusCache interface {
	Put(ctx context.Context, fingerprint string, status document.CacheStatus, taskID string) error
	Forget(ctx context.Context, fingerprint, taskID string) (bool, error)
}

// RetryPublisher schedules a delayed redelivery.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, job queue.Job) error
}

// Subscriber delivers jobs to a handler until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, h queue.Handler) error
}

// Worker processes extraction jobs.
type Worker struct {
	store     Store
	cache     StatusCache
	retries   RetryPublisher
	extractor extractor.Extractor
	observer  events.Observer

	maxAttempts int
	retryDelay  time.Duration
	timeLimit   time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Worker. A nil observer discards events.
func New(st Store, cache StatusCache, retries RetryPublisher, ext extractor.Extractor, cfg config.WorkerConfig, observer events.Observer) *Worker {
	if observer == nil {
		observer = events.Nop{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 60 * time.Second
	}
	return &Worker{
		store:       st,
		cache:       cache,
		retries:     retries,
		extractor:   ext,
		observer:    observer,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		timeLimit:   cfg.TaskTimeLimit,
		now:         time.Now,
		logger:      slog.Default().With("component", "worker"),
	}
}

// Run consumes jobs from sub until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, sub Subscriber) error {
	w.logger.Info("worker started",
		"max_attempts", w.maxAttempts,
		"retry_delay", w.retryDelay,
		"task_time_limit", w.timeLimit,
	)
	err := sub.Subscribe(ctx, w.Handle)
	w.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one delivery of a job. It returns an error only when the
// delivery should be redelivered: the context was cancelled mid-task, or a
// retry could not be scheduled. Extraction failures are absorbed by the
// retry policy.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	if job.CorrelationID != "" {
		ctx = logger.WithRequestID(ctx, job.CorrelationID)
	}
	traceID := job.CorrelationID
	if traceID == "" {
		traceID = job.TaskID
	}
	ctx, span := tracing.StartSpan(ctx, "extract-task", traceID)
	span.SetAttr("task_id", job.TaskID)
	span.SetAttr("attempt", job.Attempt)
	log := logger.FromContext(ctx).With("component", "worker", "task_id", job.TaskID, "fingerprint", job.Fingerprint, "attempt", job.Attempt)

	err := w.handle(ctx, log, job)
	span.End(err)
	span.Log(log)
	return err
}

func (w *Worker) handle(ctx context.Context, log *slog.Logger, job queue.Job) error {
	task := events.Task{ID: job.TaskID, Fingerprint: job.Fingerprint, Attempt: job.Attempt}

	if job.Attempt > w.maxAttempts {
		log.Warn("dropping job past attempt cap", "max_attempts", w.maxAttempts)
		return nil
	}
	if w.revoked(ctx, log, task) {
		return nil
	}
	applied, err := w.store.RecordTask(ctx, store.TaskUpdate{
		ID: job.TaskID, State: document.TaskStarted, Fingerprint: job.Fingerprint, Attempts: job.Attempt,
	})
	if err != nil {
		log.Error("recording task start failed", "error", err)
	} else if !applied {
		w.forget(ctx, log, task)
		w.observer.Revoked(ctx, task)
		return nil
	}
	w.observer.Started(ctx, task)
	started := w.now()

	doc, proceed, err := w.acquire(ctx, log, job)
	if err != nil {
		return w.fail(ctx, log, job, nil, err)
	}
	if !proceed {
		return nil
	}

	if w.revoked(ctx, log, task) {
		return nil
	}

	var res *extractor.Result
	extractCtx, extractSpan := tracing.StartChildSpan(ctx, "extract")
	err = resilience.WithTimeout(extractCtx, w.timeLimit, "extract", func(ctx context.Context) error {
		var err error
		res, err = w.extractor.Extract(ctx, job.Content)
		return err
	})
	extractSpan.End(err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return w.fail(ctx, log, job, doc, err)
	}
	extractSpan.SetAttr("pages", res.Pages)

	if w.revoked(ctx, log, task) {
		return nil
	}

	persistCtx, persistSpan := tracing.StartChildSpan(ctx, "persist")
	err = w.store.Complete(persistCtx, doc.ID, res.Markdown, nil)
	persistSpan.End(err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return w.fail(ctx, log, job, doc, err)
	}

	w.putCache(ctx, log, job, document.CacheProcessed)
	w.succeed(ctx, log, job)
	w.observer.Succeeded(ctx, task, w.now().Sub(started))
	log.Info("document processed", "document_id", doc.ID, "pages", res.Pages)
	return nil
}

// acquire finds or creates the document for the job's fingerprint and
// decides whether this delivery should extract it. When it should not, the
// task is already recorded as succeeded.
func (w *Worker) acquire(ctx context.Context, log *slog.Logger, job queue.Job) (*document.Document, bool, error) {
	doc, err := w.store.GetByHash(ctx, job.Fingerprint)
	if errors.Is(err, apperrors.ErrNotFound) {
		doc, err = w.store.Create(ctx, job.Fingerprint, job.FileName, job.Content, job.TaskID)
		if errors.Is(err, apperrors.ErrConstraintViolation) {
			log.Info("document created by another worker")
			w.succeed(ctx, log, job)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	switch doc.Status {
	case document.StatusCompleted:
		log.Info("document already processed", "document_id", doc.ID)
		w.putCache(ctx, log, job, document.CacheProcessed)
		w.succeed(ctx, log, job)
		return doc, false, nil

	case document.StatusPending:
		if doc.TaskID == "" || doc.TaskID == job.TaskID {
			return doc, true, nil
		}
		ok, err := w.store.ClaimRevoked(ctx, doc.ID, doc.TaskID, job.TaskID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			log.Info("reclaimed document from revoked task", "document_id", doc.ID, "owner", doc.TaskID)
			doc.TaskID = job.TaskID
			return doc, true, nil
		}
		log.Info("document owned by another task", "document_id", doc.ID, "owner", doc.TaskID)
		w.succeed(ctx, log, job)
		return doc, false, nil

	case document.StatusFailed:
		ok, err := w.store.ClaimFailed(ctx, doc.ID, job.TaskID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			log.Info("failed document claimed by another task", "document_id", doc.ID)
			w.succeed(ctx, log, job)
			return doc, false, nil
		}
		doc.Status, doc.TaskID = document.StatusPending, job.TaskID
		return doc, true, nil
	}
	return nil, false, fmt.Errorf("document %d has unknown status %q", doc.ID, doc.Status)
}

// fail marks the document and cache entry failed, then either schedules the
// next attempt or records the terminal failure.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, job queue.Job, doc *document.Document, cause error) error {
	task := events.Task{ID: job.TaskID, Fingerprint: job.Fingerprint, Attempt: job.Attempt}
	if !errors.Is(cause, apperrors.ErrExtractionFailure) && !errors.Is(cause, apperrors.ErrTimeout) {
		cause = fmt.Errorf("%w: %w", apperrors.ErrExtractionFailure, cause)
	}

	if doc != nil {
		if err := w.store.SetStatus(ctx, doc.ID, document.StatusFailed); err != nil {
			log.Error("marking document failed", "document_id", doc.ID, "error", err)
		}
	}
	w.putCache(ctx, log, job, document.CacheFailed)

	if job.Attempt >= w.maxAttempts {
		w.recordState(ctx, log, store.TaskUpdate{
			ID: job.TaskID, State: document.TaskFailure, Attempts: job.Attempt, Error: cause.Error(),
		})
		w.observer.Failed(ctx, task, cause)
		return nil
	}

	if !w.recordState(ctx, log, store.TaskUpdate{
		ID: job.TaskID, State: document.TaskRetry, Attempts: job.Attempt, Error: cause.Error(),
	}) {
		w.forget(ctx, log, task)
		w.observer.Revoked(ctx, task)
		return nil
	}
	next := job
	next.Attempt = job.Attempt + 1
	next.NotBefore = w.now().Add(w.retryDelay)
	next.CorrelationID = logger.RequestID(ctx)
	if err := w.retries.PublishRetry(ctx, next); err != nil {
		return fmt.Errorf("scheduling attempt %d of task %s: %w", next.Attempt, job.TaskID, err)
	}
	w.observer.Retrying(ctx, task, cause, w.retryDelay)
	return nil
}

func (w *Worker) succeed(ctx context.Context, log *slog.Logger, job queue.Job) {
	w.recordState(ctx, log, store.TaskUpdate{
		ID: job.TaskID, State: document.TaskSuccess, Attempts: job.Attempt, Result: job.Fingerprint,
	})
}

// recordState writes a task transition and reports whether it was applied.
// A store error is logged and counted as applied.
func (w *Worker) recordState(ctx context.Context, log *slog.Logger, u store.TaskUpdate) bool {
	applied, err := w.store.RecordTask(ctx, u)
	if err != nil {
		log.Error("recording task state", "state", u.State, "error", err)
		return true
	}
	if !applied {
		log.Info("task revoked, state not recorded", "state", u.State)
	}
	return applied
}

func (w *Worker) putCache(ctx context.Context, log *slog.Logger, job queue.Job, status document.CacheStatus) {
	if err := w.cache.Put(ctx, job.Fingerprint, status, job.TaskID); err != nil {
		log.Warn("status cache write failed", "status", status, "error", err)
	}
}

func (w *Worker) revoked(ctx context.Context, log *slog.Logger, task events.Task) bool {
	revoked, err := w.store.IsRevoked(ctx, task.ID)
	if err != nil {
		log.Warn("revocation check failed", "error", err)
		return false
	}
	if revoked {
		log.Info("task revoked, stopping")
		w.forget(ctx, log, task)
		w.observer.Revoked(ctx, task)
	}
	return revoked
}

// forget drops the cache entry of a revoked task so the next upload of the
// same bytes is dispatched instead of answered with the dead task id.
func (w *Worker) forget(ctx context.Context, log *slog.Logger, task events.Task) {
	if _, err := w.cache.Forget(ctx, task.Fingerprint, task.ID); err != nil {
		log.Warn("status cache forget failed", "error", err)
	}
}
