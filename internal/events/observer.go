// Package events defines the lifecycle hooks the dispatcher and worker call
// as tasks move through the pipeline, with logging and Prometheus
// implementations.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
)

// Task identifies the task an event is about.
type Task struct {
	ID          string
	Fingerprint string
	Attempt     int
}

// Observer receives task lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// Enqueued fires after a task is handed to the broker. attempts counts
	// enqueue tries, including the successful one.
	Enqueued(ctx context.Context, t Task, attempts int)
	// Duplicate fires when a submission is answered from the status cache.
	Duplicate(ctx context.Context, t Task, status document.CacheStatus)
	// EnqueueFailed fires when enqueue retries are exhausted.
	EnqueueFailed(ctx context.Context, t Task, err error)
	Started(ctx context.Context, t Task)
	Succeeded(ctx context.Context, t Task, elapsed time.Duration)
	Retrying(ctx context.Context, t Task, err error, delay time.Duration)
	Failed(ctx context.Context, t Task, err error)
	Revoked(ctx context.Context, t Task)
}

// Nop ignores every event.
type Nop struct{}

func (Nop) Enqueued(context.Context, Task, int)                   {}
func (Nop) Duplicate(context.Context, Task, document.CacheStatus) {}
func (Nop) EnqueueFailed(context.Context, Task, error)            {}
func (Nop) Started(context.Context, Task)                         {}
func (Nop) Succeeded(context.Context, Task, time.Duration)        {}
func (Nop) Retrying(context.Context, Task, error, time.Duration)  {}
func (Nop) Failed(context.Context, Task, error)                   {}
func (Nop) Revoked(context.Context, Task)                         {}

// Multi fans every event out to each observer in order.
type Multi []Observer

func (m Multi) Enqueued(ctx context.Context, t Task, attempts int) {
	for _, o := range m {
		o.Enqueued(ctx, t, attempts)
	}
}

func (m Multi) Duplicate(ctx context.Context, t Task, status document.CacheStatus) {
	for _, o := range m {
		o.Duplicate(ctx, t, status)
	}
}

func (m Multi) EnqueueFailed(ctx context.Context, t Task, err error) {
	for _, o := range m {
		o.EnqueueFailed(ctx, t, err)
	}
}

func (m Multi) Started(ctx context.Context, t Task) {
	for _, o := range m {
		o.Started(ctx, t)
	}
}

func (m Multi) Succeeded(ctx context.Context, t Task, elapsed time.Duration) {
	for _, o := range m {
		o.Succeeded(ctx, t, elapsed)
	}
}

func (m Multi) Retrying(ctx context.Context, t Task, err error, delay time.Duration) {
	for _, o := range m {
		o.Retrying(ctx, t, err, delay)
	}
}

func (m Multi) Failed(ctx context.Context, t Task, err error) {
	for _, o := range m {
		o.Failed(ctx, t, err)
	}
}

func (m Multi) Revoked(ctx context.Context, t Task) {
	for _, o := range m {
		o.Revoked(ctx, t)
	}
}

// Log writes each event as a structured log line carrying the correlation
// id from ctx.
type Log struct{}

func (Log) log(ctx context.Context, level slog.Level, msg string, t Task, attrs ...any) {
	attrs = append([]any{"task_id", t.ID, "fingerprint", t.Fingerprint, "attempt", t.Attempt}, attrs...)
	logger.FromContext(ctx).With("component", "task-events").Log(ctx, level, msg, attrs...)
}

func (l Log) Enqueued(ctx context.Context, t Task, attempts int) {
	l.log(ctx, slog.LevelInfo, "task enqueued", t, "enqueue_attempts", attempts)
}

func (l Log) Duplicate(ctx context.Context, t Task, status document.CacheStatus) {
	l.log(ctx, slog.LevelInfo, "duplicate submission", t, "cache_status", status)
}

func (l Log) EnqueueFailed(ctx context.Context, t Task, err error) {
	l.log(ctx, slog.LevelError, "task enqueue failed", t, "error", err)
}

func (l Log) Started(ctx context.Context, t Task) {
	l.log(ctx, slog.LevelInfo, "task started", t)
}

func (l Log) Succeeded(ctx context.Context, t Task, elapsed time.Duration) {
	l.log(ctx, slog.LevelInfo, "task succeeded", t, "elapsed_ms", elapsed.Milliseconds())
}

func (l Log) Retrying(ctx context.Context, t Task, err error, delay time.Duration) {
	l.log(ctx, slog.LevelWarn, "task retrying", t, "error", err, "delay", delay)
}

func (l Log) Failed(ctx context.Context, t Task, err error) {
	l.log(ctx, slog.LevelError, "task failed", t, "error", err)
}

func (l Log) Revoked(ctx context.Context, t Task) {
	l.log(ctx, slog.LevelWarn, "task revoked", t)
}

// Prometheus counts events on the pipeline collectors.
type Prometheus struct {
	M *metrics.Metrics
}

func (p Prometheus) Enqueued(_ context.Context, _ Task, attempts int) {
	p.M.SubmissionsTotal.WithLabelValues("enqueued").Inc()
	p.M.EnqueueAttemptsTotal.WithLabelValues("ok").Inc()
	if attempts > 1 {
		p.M.EnqueueAttemptsTotal.WithLabelValues("error").Add(float64(attempts - 1))
	}
}

func (p Prometheus) Duplicate(context.Context, Task, document.CacheStatus) {
	p.M.SubmissionsTotal.WithLabelValues("duplicate").Inc()
}

func (p Prometheus) EnqueueFailed(context.Context, Task, error) {
	p.M.SubmissionsTotal.WithLabelValues("failed").Inc()
}

func (p Prometheus) Started(context.Context, Task) {
	p.M.TasksTotal.WithLabelValues(string(document.TaskStarted)).Inc()
}

func (p Prometheus) Succeeded(_ context.Context, _ Task, elapsed time.Duration) {
	p.M.TasksTotal.WithLabelValues(string(document.TaskSuccess)).Inc()
	p.M.ExtractionDuration.WithLabelValues("success").Observe(elapsed.Seconds())
}

func (p Prometheus) Retrying(context.Context, Task, error, time.Duration) {
	p.M.TasksTotal.WithLabelValues(string(document.TaskRetry)).Inc()
}

func (p Prometheus) Failed(context.Context, Task, error) {
	p.M.TasksTotal.WithLabelValues(string(document.TaskFailure)).Inc()
}

func (p Prometheus) Revoked(context.Context, Task) {
	p.M.TasksTotal.WithLabelValues(string(document.TaskRevoked)).Inc()
}
