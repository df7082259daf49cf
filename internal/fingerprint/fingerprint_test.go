package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReadReturnsDigestAndContent(t *testing.T) {
	fp, content, err := Read(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", fp)
	assert.Equal(t, []byte("abc"), content)
	assert.Equal(t, fp, Of(content))
	assert.True(t, Valid(fp))
}

func TestIdenticalContentSameFingerprint(t *testing.T) {
	a, _, err := Read(strings.NewReader("%PDF-1.4 same bytes"))
	require.NoError(t, err)
	b, _, err := Read(strings.NewReader("%PDF-1.4 same bytes"))
	require.NoError(t, err)
	c, _, err := Read(strings.NewReader("%PDF-1.4 other bytes"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestReadFailureIsIOError(t *testing.T) {
	_, _, err := Read(brokenReader{})
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid(strings.Repeat("Z", Size)))
	assert.False(t, Valid(strings.ToUpper(Of([]byte("x")))))
	assert.True(t, Valid(Of([]byte("x"))))
}
