package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRetryLinearBackoffExhausts(t *testing.T) {
	sleeper := &recordingSleeper{}
	boom := errors.New("broker down")
	calls := 0

	err := Retry(context.Background(), "enqueue", RetryConfig{
		MaxAttempts: 5,
		Backoff:     LinearBackoff(2 * time.Second),
		Sleep:       sleeper.Sleep,
	}, func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}, sleeper.delays)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Millisecond),
		Sleep:       sleeper.Sleep,
	}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	bad := errors.New("bad payload")
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 5, Sleep: (&recordingSleeper{}).Sleep}, func() error {
		calls++
		return Permanent(bad)
	})
	assert.ErrorIs(t, err, bad)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetryAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, "op", RetryConfig{MaxAttempts: 4}, func() error {
		calls++
		return errors.New("nope")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoffCapped(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second, 2, 0)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(10))
}
