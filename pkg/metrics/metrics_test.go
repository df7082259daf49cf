package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsExposedOnHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.SubmissionsTotal.WithLabelValues("enqueued").Inc()
	m.SubmissionsTotal.WithLabelValues("duplicate").Add(2)
	m.TasksTotal.WithLabelValues("SUCCESS").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `document_submissions_total{outcome="enqueued"} 1`)
	assert.Contains(t, string(body), `document_submissions_total{outcome="duplicate"} 2`)
	assert.Contains(t, string(body), `extraction_tasks_total{state="SUCCESS"} 1`)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		r1, r2 := prometheus.NewRegistry(), prometheus.NewRegistry()
		NewWithRegistry(r1, r1)
		NewWithRegistry(r2, r2)
	})
}
