package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), 20*time.Millisecond, "extract", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutPassesResult(t *testing.T) {
	boom := errors.New("boom")
	err := WithTimeout(context.Background(), time.Second, "extract", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, WithTimeout(context.Background(), 0, "nolimit", func(ctx context.Context) error { return nil }))
}
