package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeProducesStructuredCloudEvent(t *testing.T) {
	job := Job{
		TaskID:        "task-1",
		Fingerprint:   "abc",
		FileName:      "doc.pdf",
		Content:       []byte("%PDF-1.7"),
		Attempt:       2,
		CorrelationID: "req-9",
	}
	data, err := Encode(job)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "1.0", envelope["specversion"])
	assert.Equal(t, EventType, envelope["type"])
	assert.Equal(t, "abc", envelope["subject"])
	assert.Equal(t, "task-1-2", envelope["id"])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job.Content, decoded.Content)
	assert.Equal(t, "req-9", decoded.CorrelationID)
	assert.Equal(t, 2, decoded.Attempt)
}

func TestDecodeRejectsForeignEvents(t *testing.T) {
	_, err := Decode([]byte(`{"specversion":"1.0","id":"x","source":"s","type":"other.type","data":{}}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"specversion":"1.0","id":"x","source":"s","type":"` + EventType + `","datacontenttype":"application/json","data":{"task_id":"t"}}`))
	assert.Error(t, err, "job without fingerprint")
}

type collector struct {
	mu   sync.Mutex
	jobs []Job
	at   []time.Time
}

func (c *collector) handle(_ context.Context, job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	c.at = append(c.at, time.Now())
	return nil
}

func (c *collector) snapshot() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Job(nil), c.jobs...)
}

func TestMemoryBrokerDeliversAndHoldsRetries(t *testing.T) {
	b := NewMemoryBroker(2, 8)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	go b.Subscribe(ctx, c.handle)

	start := time.Now()
	require.NoError(t, b.Publish(ctx, Job{TaskID: "t1", Fingerprint: "f", Attempt: 1}))
	require.NoError(t, b.PublishRetry(ctx, Job{TaskID: "t1", Fingerprint: "f", Attempt: 2, NotBefore: start.Add(50 * time.Millisecond)}))

	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Second)
	defer drainCancel()
	require.NoError(t, b.Drain(drainCtx))

	jobs := c.snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[0].Attempt)
	assert.Equal(t, 2, jobs[1].Attempt)
	c.mu.Lock()
	assert.GreaterOrEqual(t, c.at[1].Sub(start), 50*time.Millisecond)
	c.mu.Unlock()
}

func TestMemoryBrokerBufferLimit(t *testing.T) {
	b := NewMemoryBroker(1, 1)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, Job{TaskID: "a", Fingerprint: "f"}))
	assert.ErrorIs(t, b.Publish(ctx, Job{TaskID: "b", Fingerprint: "f"}), ErrQueueFull)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, Job{TaskID: "c", Fingerprint: "f"}), ErrBrokerClosed)
	assert.ErrorIs(t, b.PublishRetry(ctx, Job{TaskID: "c", Fingerprint: "f", NotBefore: time.Now().Add(time.Hour)}), ErrBrokerClosed)
}

func TestMemoryBrokerCloseCancelsHeldRetries(t *testing.T) {
	b := NewMemoryBroker(1, 4)
	ctx := context.Background()
	require.NoError(t, b.PublishRetry(ctx, Job{TaskID: "t", Fingerprint: "f", Attempt: 2, NotBefore: time.Now().Add(time.Hour)}))
	require.NoError(t, b.Close())

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, b.Drain(drainCtx))
}

func TestMemoryBrokerHoldsDueRetryWhileBufferFull(t *testing.T) {
	b := NewMemoryBroker(1, 1)
	b.requeueDelay = 10 * time.Millisecond
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, Job{TaskID: "a", Fingerprint: "f", Attempt: 1}))
	require.NoError(t, b.PublishRetry(ctx, Job{TaskID: "b", Fingerprint: "g", Attempt: 2, NotBefore: time.Now().Add(5 * time.Millisecond)}))
	time.Sleep(50 * time.Millisecond)

	c := &collector{}
	go b.Subscribe(ctx, c.handle)

	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Second)
	defer drainCancel()
	require.NoError(t, b.Drain(drainCtx))

	jobs := c.snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].TaskID)
	assert.Equal(t, "b", jobs[1].TaskID)
	assert.Equal(t, 2, jobs[1].Attempt)
}

func TestMemoryBrokerCloseReleasesRetryHeldOnFullBuffer(t *testing.T) {
	b := NewMemoryBroker(1, 1)
	b.requeueDelay = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, Job{TaskID: "a", Fingerprint: "f"}))
	require.NoError(t, b.PublishRetry(ctx, Job{TaskID: "b", Fingerprint: "g", Attempt: 2, NotBefore: time.Now().Add(5 * time.Millisecond)}))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Close())

	// the buffered job is still pending; the held retry is not
	b.mu.Lock()
	held := len(b.timers)
	b.mu.Unlock()
	assert.Zero(t, held)
	assert.Len(t, b.jobs, 1)
}
