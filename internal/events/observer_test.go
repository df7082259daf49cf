package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
)

func TestLogObserverCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger.SetupWriter(&buf, "debug", "json")
	t.Cleanup(func() { logger.Setup("info", "json") })

	ctx := logger.WithRequestID(context.Background(), "req-7")
	Log{}.Retrying(ctx, Task{ID: "t1", Fingerprint: "fp", Attempt: 1}, errors.New("bad xref"), time.Minute)

	out := buf.String()
	assert.Contains(t, out, `"msg":"task retrying"`)
	assert.Contains(t, out, `"request_id":"req-7"`)
	assert.Contains(t, out, `"task_id":"t1"`)
	assert.Contains(t, out, `bad xref`)
}

func TestMultiAndPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	obs := Multi{Nop{}, Prometheus{M: m}}
	ctx := context.Background()
	task := Task{ID: "t", Fingerprint: "f", Attempt: 1}

	obs.Enqueued(ctx, task, 3)
	obs.Started(ctx, task)
	obs.Failed(ctx, task, errors.New("x"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `task_enqueue_attempts_total{result="error"} 2`)
	assert.Contains(t, string(body), `task_enqueue_attempts_total{result="ok"} 1`)
	assert.Contains(t, string(body), `extraction_tasks_total{state="FAILURE"} 1`)
	assert.Contains(t, string(body), `extraction_tasks_total{state="STARTED"} 1`)
}
