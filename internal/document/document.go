// Package document defines the records the pipeline persists and exchanges:
// documents, their extracted output, task results, and status cache entries.
package document

import (
	"encoding/json"
	"time"
)

// Status is a document's lifecycle state in the durable store.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Document is an uploaded PDF, unique by content hash.
type Document struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"file_name"`
	Content     []byte    `json:"-"`
	ContentHash string    `json:"content_hash"`
	Status      Status    `json:"status"`
	TaskID      string    `json:"task_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Processed *ProcessedDocument `json:"processed_document,omitempty"`
}

// ProcessedDocument is the extracted output of a Document. It is written once.
type ProcessedDocument struct {
	ID              int64           `json:"id"`
	DocumentID      int64           `json:"document"`
	MarkdownContent string          `json:"markdown_content"`
	Embeddings      json.RawMessage `json:"embeddings"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CacheStatus is the status recorded in a status cache entry.
type CacheStatus string

const (
	CacheQueued    CacheStatus = "queued"
	CacheProcessed CacheStatus = "processed"
	CacheFailed    CacheStatus = "failed"
)

// CacheEntry is the JSON value stored under doc:{fingerprint}. TaskID is
// empty while a submission is mid-flight.
type CacheEntry struct {
	Status CacheStatus `json:"status"`
	TaskID string      `json:"task_id"`
}

// MarshalJSON writes an empty TaskID as null.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	var taskID *string
	if e.TaskID != "" {
		taskID = &e.TaskID
	}
	return json.Marshal(struct {
		Status CacheStatus `json:"status"`
		TaskID *string     `json:"task_id"`
	}{e.Status, taskID})
}

// TaskState is the execution state of an extraction task.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskRetry   TaskState = "RETRY"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
	TaskRevoked TaskState = "REVOKED"
)

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure || s == TaskRevoked
}

// Task is the stored result of an extraction task. A task with no stored
// row is PENDING.
type Task struct {
	ID          string    `json:"task_id"`
	State       TaskState `json:"state"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Attempts    int       `json:"attempts"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resolution is the combined view of a task returned to pollers. Facets that
// could not be determined are null.
type Resolution struct {
	TaskID         string       `json:"task_id"`
	TaskStatus     TaskState    `json:"task_status"`
	DocumentStatus *Status      `json:"document_status"`
	CacheStatus    *CacheStatus `json:"cache_status"`
}
