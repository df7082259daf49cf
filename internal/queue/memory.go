package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ErrQueueFull is returned by MemoryBroker.Publish when the buffer is full.
var ErrQueueFull = errors.New("job queue is full")

// ErrBrokerClosed is returned after Close.
var ErrBrokerClosed = errors.New("broker is closed")

// MemoryBroker runs jobs on an ants goroutine pool inside the current
// process. Jobs published before Subscribe wait in a bounded buffer; retries
// are held on timers. A retry that comes due while the buffer is full stays
// held and is offered again every requeueDelay. Nothing survives a restart.
type MemoryBroker struct {
	jobs         chan Job
	poolSize     int
	now          func() time.Time
	requeueDelay time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	closed  bool
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
}

// NewMemoryBroker creates a broker whose pool runs poolSize jobs at once
// and whose buffer holds up to buffer undelivered jobs.
func NewMemoryBroker(poolSize, buffer int) *MemoryBroker {
	if poolSize < 1 {
		poolSize = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return &MemoryBroker{
		jobs:         make(chan Job, buffer),
		poolSize:     poolSize,
		now:          time.Now,
		requeueDelay: 100 * time.Millisecond,
		timers:       make(map[*time.Timer]struct{}),
		logger:       slog.Default().With("component", "memory-broker"),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	select {
	case b.jobs <- job:
		b.pending.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (b *MemoryBroker) PublishRetry(ctx context.Context, job Job) error {
	delay := job.NotBefore.Sub(b.now())
	if delay <= 0 {
		return b.Publish(ctx, job)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.pending.Add(1)
	b.holdLocked(job, delay)
	return nil
}

// holdLocked arms a timer that moves job into the buffer after delay. The
// caller holds b.mu and has already counted job as pending; the count moves
// with the job into the buffer or is released on Close.
func (b *MemoryBroker) holdLocked(job Job, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.timers, t)
		if b.closed {
			b.pending.Done()
			return
		}
		select {
		case b.jobs <- job:
		default:
			b.logger.Warn("queue full, holding retry", "task_id", job.TaskID, "attempt", job.Attempt, "requeue_in", b.requeueDelay)
			b.holdLocked(job, b.requeueDelay)
		}
	})
	b.timers[t] = struct{}{}
}

// Subscribe feeds buffered jobs to h on the pool until ctx is cancelled,
// then waits for running jobs to finish.
func (b *MemoryBroker) Subscribe(ctx context.Context, h Handler) error {
	pool, err := ants.NewPool(b.poolSize)
	if err != nil {
		return err
	}
	defer pool.Release()

	var running sync.WaitGroup
	defer running.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-b.jobs:
			running.Add(1)
			err := pool.Submit(func() {
				defer running.Done()
				defer b.pending.Done()
				if err := h(ctx, job); err != nil {
					b.logger.Error("job failed", "task_id", job.TaskID, "attempt", job.Attempt, "error", err)
				}
			})
			if err != nil {
				running.Done()
				b.pending.Done()
				b.logger.Error("pool rejected job", "task_id", job.TaskID, "error", err)
			}
		}
	}
}

// Drain blocks until every published job, including held retries, has been
// handled or ctx ends.
func (b *MemoryBroker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops held retries and rejects further publishes.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for t := range b.timers {
		if t.Stop() {
			b.pending.Done()
		}
		delete(b.timers, t)
	}
	return nil
}
