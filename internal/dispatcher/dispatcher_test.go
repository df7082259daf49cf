package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/statuscache"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

const fp = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	jobs     []queue.Job
	gate     chan struct{}
}

func (p *flakyPublisher) Publish(_ context.Context, job queue.Job) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type recordingObserver struct {
	events.Nop
	enqueued   atomic.Int32
	duplicates atomic.Int32
	failed     atomic.Int32
}

func (o *recordingObserver) Enqueued(context.Context, events.Task, int) { o.enqueued.Add(1) }
func (o *recordingObserver) Duplicate(context.Context, events.Task, document.CacheStatus) {
	o.duplicates.Add(1)
}
func (o *recordingObserver) EnqueueFailed(context.Context, events.Task, error) { o.failed.Add(1) }

func newTestDispatcher(pub Publisher) (*Dispatcher, *statuscache.Cache, *[]time.Duration, *recordingObserver) {
	cache := statuscache.New(statuscache.NewMemoryBackend(), config.CacheConfig{})
	obs := &recordingObserver{}
	d := New(pub, cache, config.DispatcherConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second}, obs)
	var mu sync.Mutex
	delays := &[]time.Duration{}
	d.sleep = func(_ context.Context, dur time.Duration) error {
		mu.Lock()
		*delays = append(*delays, dur)
		mu.Unlock()
		return nil
	}
	n := 0
	d.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("task-%d", n)
	}
	return d, cache, delays, obs
}

func TestSubmitEnqueuesAndRecordsQueued(t *testing.T) {
	pub := &flakyPublisher{}
	d, cache, _, obs := newTestDispatcher(pub)
	ctx := logger.WithRequestID(context.Background(), "req-1")

	sub, err := d.Submit(ctx, []byte("%PDF"), "doc.pdf", fp)
	require.NoError(t, err)
	assert.Equal(t, Submission{Hash: fp, TaskID: "task-1"}, sub)

	require.Len(t, pub.jobs, 1)
	job := pub.jobs[0]
	assert.Equal(t, "task-1", job.TaskID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, "req-1", job.CorrelationID)
	assert.Equal(t, "doc.pdf", job.FileName)

	entry, ok, err := cache.Get(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, document.CacheEntry{Status: document.CacheQueued, TaskID: "task-1"}, entry)
	assert.Equal(t, int32(1), obs.enqueued.Load())
}

func TestDuplicateSubmissionReturnsSameTask(t *testing.T) {
	pub := &flakyPublisher{}
	d, _, _, obs := newTestDispatcher(pub)
	ctx := context.Background()

	first, err := d.Submit(ctx, []byte("%PDF"), "a.pdf", fp)
	require.NoError(t, err)
	second, err := d.Submit(ctx, []byte("%PDF"), "b.pdf", fp)
	require.NoError(t, err)

	assert.Equal(t, first.TaskID, second.TaskID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, int32(1), obs.duplicates.Load())
}

func TestProcessedAndFailedEntriesAreNotRequeued(t *testing.T) {
	for _, status := range []document.CacheStatus{document.CacheProcessed, document.CacheFailed} {
		pub := &flakyPublisher{}
		d, cache, _, _ := newTestDispatcher(pub)
		ctx := context.Background()
		require.NoError(t, cache.Put(ctx, fp, status, "old-task"))

		sub, err := d.Submit(ctx, []byte("%PDF"), "a.pdf", fp)
		require.NoError(t, err)
		assert.Equal(t, "old-task", sub.TaskID, status)
		assert.Zero(t, pub.calls, status)
	}
}

func TestQueuedEntryWithoutTaskIsEnqueuedAndOverwritten(t *testing.T) {
	pub := &flakyPublisher{}
	d, cache, _, _ := newTestDispatcher(pub)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, fp, document.CacheQueued, ""))

	sub, err := d.Submit(ctx, []byte("%PDF"), "a.pdf", fp)
	require.NoError(t, err)
	assert.Equal(t, "task-1", sub.TaskID)
	assert.Equal(t, 1, pub.calls)

	entry, ok, err := cache.Get(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "task-1", entry.TaskID)
}

func TestEnqueueBackoffThenDispatchFailure(t *testing.T) {
	pub := &flakyPublisher{failures: 100}
	d, cache, delays, obs := newTestDispatcher(pub)
	ctx := context.Background()

	_, err := d.Submit(ctx, []byte("%PDF"), "a.pdf", fp)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDispatchFailure)
	assert.Contains(t, err.Error(), "broker unavailable")

	assert.Equal(t, 5, pub.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}, *delays)
	for i := 1; i < len(*delays); i++ {
		assert.Greater(t, (*delays)[i], (*delays)[i-1])
	}
	assert.Equal(t, int32(1), obs.failed.Load())

	_, ok, err := cache.Get(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok, "no cache entry for an undispatched task")
}

func TestEnqueueRecoversAfterTransientFailures(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	d, _, delays, _ := newTestDispatcher(pub)

	sub, err := d.Submit(context.Background(), []byte("%PDF"), "a.pdf", fp)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.TaskID)
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestConcurrentIdenticalSubmissionsShareTask(t *testing.T) {
	pub := &flakyPublisher{gate: make(chan struct{})}
	d, _, _, _ := newTestDispatcher(pub)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := d.Submit(ctx, []byte("%PDF"), "a.pdf", fp)
			assert.NoError(t, err)
			ids[i] = sub.TaskID
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(pub.gate)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, pub.calls)
}

func TestCancelledCallerDoesNotFailCollapsedWaiters(t *testing.T) {
	pub := &flakyPublisher{gate: make(chan struct{})}
	d, cache, _, _ := newTestDispatcher(pub)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Submit(firstCtx, []byte("%PDF"), "a.pdf", fp)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan Submission, 1)
	go func() {
		sub, err := d.Submit(context.Background(), []byte("%PDF"), "a.pdf", fp)
		assert.NoError(t, err)
		second <- sub
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(pub.gate)
	select {
	case sub := <-second:
		assert.Equal(t, "task-1", sub.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("collapsed caller never answered")
	}

	entry, ok, err := cache.Get(context.Background(), fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, document.CacheQueued, entry.Status)
	assert.Equal(t, "task-1", entry.TaskID)
	assert.Equal(t, 1, pub.calls)
}
