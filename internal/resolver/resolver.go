// Package resolver answers "where is this task?" by combining the task
// state, the status cache and the durable store.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

// TaskStore holds task states and documents.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*document.Task, error)
	GetByHash(ctx context.Context, hash string) (*document.Document, error)
}

// StatusCache is the fast path for document status.
type StatusCache interface {
	Get(ctx context.Context, fingerprint string) (document.CacheEntry, bool, error)
}

// Resolver resolves task references.
type Resolver struct {
	store TaskStore
	cache StatusCache
}

func New(store TaskStore, cache StatusCache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve reports the task state and, when the task names a fingerprint,
// the document and cache status behind it. An unknown task is PENDING. A
// cached "processed" status implies a completed document without reading
// the store; any other cache state defers to the store, since cache entries
// may expire or lag behind it.
func (r *Resolver) Resolve(ctx context.Context, taskID string) (*document.Resolution, error) {
	res := &document.Resolution{TaskID: taskID, TaskStatus: document.TaskPending}

	task, err := r.store.GetTask(ctx, taskID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving task %s: %w", taskID, err)
	}
	res.TaskStatus = task.State

	fingerprint := task.Fingerprint
	if task.State == document.TaskSuccess && task.Result != "" {
		fingerprint = task.Result
	}
	if fingerprint == "" {
		return res, nil
	}

	entry, ok, err := r.cache.Get(ctx, fingerprint)
	if err != nil {
		logger.FromContext(ctx).Warn("status cache unavailable, reading store", "task_id", taskID, "error", err)
	}
	if ok {
		status := entry.Status
		res.CacheStatus = &status
		if status == document.CacheProcessed {
			completed := document.StatusCompleted
			res.DocumentStatus = &completed
			return res, nil
		}
	}

	doc, err := r.store.GetByHash(ctx, fingerprint)
	if errors.Is(err, apperrors.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving document for task %s: %w", taskID, err)
	}
	status := doc.Status
	res.DocumentStatus = &status
	return res, nil
}
