package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(body),
		})
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Write([]byte(resp))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","message":"not found"}`))
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitUploadsMultipartFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents": `{"status":"success","data":{"hash":"abc","task_id":"task-1"}}`,
	})
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644))

	out, err := run(t, "submit", path, "--api", ts.server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "hash:    abc")
	assert.Contains(t, out, "task_id: task-1")

	require.Len(t, ts.requests, 1)
	req := ts.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.True(t, strings.HasPrefix(req.ContentType, "multipart/form-data"))
	assert.Contains(t, req.Body, `filename="report.pdf"`)
	assert.Contains(t, req.Body, "%PDF-1.4 body")
}

func TestSubmitMissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := run(t, "submit", filepath.Join(t.TempDir(), "absent.pdf"), "--api", ts.server.URL)
	require.Error(t, err)
	assert.Empty(t, ts.requests)
}

func TestStatusPrintsNullFacets(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /tasks/task-9": `{"status":"success","data":{"task_id":"task-9","task_status":"PENDING","document_status":null,"cache_status":null}}`,
	})
	out, err := run(t, "status", "task-9", "--api", ts.server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "task_status:     PENDING")
	assert.Contains(t, out, "document_status: null")
	assert.Contains(t, out, "cache_status:    null")
}

func TestRevoke(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /tasks/task-2/revoke": `{"status":"success","data":{"task_id":"task-2","task_status":"REVOKED"}}`,
	})
	out, err := run(t, "revoke", "task-2", "--api", ts.server.URL)
	require.NoError(t, err)
	assert.Equal(t, "task-2 REVOKED\n", out)
}

func TestDocumentsRecent(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /documents": `{"status":"success","data":[{"id":7,"file_name":"a.pdf","content_hash":"h","status":"completed","task_id":"t7","created_at":"2026-01-02T03:04:05Z","updated_at":"2026-01-02T03:04:05Z"}]}`,
	})
	out, err := run(t, "documents", "--recent", "--api", ts.server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "a.pdf")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2026-01-02 03:04:05")
	require.Len(t, ts.requests, 1)
	assert.Equal(t, "/documents?order_by=created_at", ts.requests[0].Path)
}

func TestAPIErrorIsReported(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := run(t, "status", "missing", "--api", ts.server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestMigrateSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "db", "pipeline.db") + "\ncache:\n  backend: memory\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	out, err := run(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite)")
	assert.FileExists(t, filepath.Join(dir, "db", "pipeline.db"))
}
