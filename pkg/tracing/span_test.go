package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "extract-task", "corr-1")
	childCtx, extract := StartChildSpan(ctx, "extract")
	extract.SetAttr("pages", 3)
	extract.End(nil)
	_, persist := StartChildSpan(ctx, "persist")
	persist.End(errors.New("disk full"))
	root.End(nil)

	assert.Same(t, extract, SpanFromContext(childCtx))
	require.Len(t, root.Children, 2)
	assert.Equal(t, "corr-1", root.Children[1].TraceID)

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "pages=3")
	assert.Contains(t, lines[2], `error="disk full"`)
}

func TestDetachedChildSpan(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}
