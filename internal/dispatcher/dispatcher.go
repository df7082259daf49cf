// Package dispatcher turns an upload into a queued extraction task. The
// status cache answers repeat submissions without touching the queue;
// otherwise a task is enqueued with linear-backoff retries and recorded in
// the cache as queued.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/resilience"
)

// Publisher is the part of a queue.Broker the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

// StatusCache is the part of the status cache the dispatcher needs.
type StatusCache interface {
	Get(ctx context.Context, fingerprint string) (document.CacheEntry, bool, error)
	Put(ctx context.Context, fingerprint string, status document.CacheStatus, taskID string) error
}

// Submission is the answer to a submit call.
type Submission struct {
	Hash   string `json:"hash"`
	TaskID string `json:"task_id"`
	// Duplicate is true when the task id came from the status cache.
	Duplicate bool `json:"-"`
}

// Dispatcher submits extraction tasks.
type Dispatcher struct {
	publisher Publisher
	cache     StatusCache
	observer  events.Observer
	attempts  int
	backoff   resilience.BackoffFunc
	sleep     func(ctx context.Context, d time.Duration) error
	newID     func() string
	group     singleflight.Group
}

// New creates a Dispatcher. A nil observer discards events.
func New(publisher Publisher, cache StatusCache, cfg config.DispatcherConfig, observer events.Observer) *Dispatcher {
	if observer == nil {
		observer = events.Nop{}
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 5
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	return &Dispatcher{
		publisher: publisher,
		cache:     cache,
		observer:  observer,
		attempts:  attempts,
		backoff:   resilience.LinearBackoff(base),
		sleep:     resilience.SleepContext,
		newID:     uuid.NewString,
	}
}

// Submit returns the task for content, enqueueing one unless the status
// cache already names it. Concurrent submissions of one fingerprint in this
// process share a single outcome; the shared enqueue runs detached from any
// one caller's cancellation and each caller stops waiting when its own ctx
// ends. Exhausted enqueue retries fail with ErrDispatchFailure.
func (d *Dispatcher) Submit(ctx context.Context, content []byte, fileName, fingerprint string) (Submission, error) {
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(fingerprint, func() (any, error) {
		return d.submit(shared, content, fileName, fingerprint)
	})
	select {
	case <-ctx.Done():
		return Submission{Hash: fingerprint}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Submission{Hash: fingerprint}, res.Err
		}
		sub := res.Val.(Submission)
		if res.Shared {
			logger.FromContext(ctx).Debug("submission collapsed", "fingerprint", fingerprint, "task_id", sub.TaskID)
		}
		return sub, nil
	}
}

func (d *Dispatcher) submit(ctx context.Context, content []byte, fileName, fingerprint string) (Submission, error) {
	log := logger.FromContext(ctx).With("component", "dispatcher", "fingerprint", fingerprint)

	entry, ok, err := d.cache.Get(ctx, fingerprint)
	if err != nil {
		log.Warn("status cache unavailable, dispatching without it", "error", err)
	}
	if ok && !(entry.Status == document.CacheQueued && entry.TaskID == "") {
		d.observer.Duplicate(ctx, events.Task{ID: entry.TaskID, Fingerprint: fingerprint}, entry.Status)
		return Submission{Hash: fingerprint, TaskID: entry.TaskID, Duplicate: true}, nil
	}
	if ok {
		log.Info("queued entry without task id, enqueueing")
	}

	job := queue.Job{
		TaskID:        d.newID(),
		Fingerprint:   fingerprint,
		FileName:      fileName,
		Content:       content,
		Attempt:       1,
		CorrelationID: logger.RequestID(ctx),
	}
	task := events.Task{ID: job.TaskID, Fingerprint: fingerprint, Attempt: 1}

	tries := 0
	err = resilience.Retry(ctx, "enqueue", resilience.RetryConfig{
		MaxAttempts: d.attempts,
		Backoff:     d.backoff,
		Sleep:       d.sleep,
	}, func() error {
		tries++
		return d.publisher.Publish(ctx, job)
	})
	if err != nil {
		d.observer.EnqueueFailed(ctx, task, err)
		return Submission{}, fmt.Errorf("enqueueing %s: %w: %w", fingerprint, apperrors.ErrDispatchFailure, err)
	}
	d.observer.Enqueued(ctx, task, tries)

	if err := d.cache.Put(ctx, fingerprint, document.CacheQueued, job.TaskID); err != nil {
		log.Warn("could not record queued task", "task_id", job.TaskID, "error", err)
	}
	return Submission{Hash: fingerprint, TaskID: job.TaskID}, nil
}
