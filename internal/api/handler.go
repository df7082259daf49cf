// Package api serves the document HTTP surface: uploads, document and
// processed-document CRUD, and task status and revocation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/fingerprint"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

// Submitter dispatches uploaded content for extraction.
type Submitter interface {
	Submit(ctx context.Context, content []byte, fileName, fingerprint string) (dispatcher.Submission, error)
}

// DocumentStore is the durable state the API reads and edits.
type DocumentStore interface {
	List(ctx context.Context, opts store.ListOptions) ([]document.Document, error)
	Get(ctx context.Context, id int64) (*document.Document, error)
	UpdateFileName(ctx context.Context, id int64, fileName string) (*document.Document, error)
	Delete(ctx context.Context, id int64) (*document.Document, error)
	ListProcessed(ctx context.Context) ([]document.ProcessedDocument, error)
	GetProcessed(ctx context.Context, id int64) (*document.ProcessedDocument, error)
	Revoke(ctx context.Context, taskID string) (*document.Task, error)
}

// Resolver reports the combined status of a task.
type Resolver interface {
	Resolve(ctx context.Context, taskID string) (*document.Resolution, error)
}

// CacheInvalidator drops status cache entries.
type CacheInvalidator interface {
	Delete(ctx context.Context, fingerprint string) error
	Forget(ctx context.Context, fingerprint, taskID string) (bool, error)
}

// Handler implements the document API endpoints.
type Handler struct {
	submitter Submitter
	docs      DocumentStore
	resolver  Resolver
	cache     CacheInvalidator
	validator *Validator
}

func NewHandler(sub Submitter, docs DocumentStore, res Resolver, cache CacheInvalidator, v *Validator) *Handler {
	return &Handler{
		submitter: sub,
		docs:      docs,
		resolver:  res,
		cache:     cache,
		validator: v,
	}
}

// Upload accepts a multipart "file", fingerprints it and dispatches it.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if max := h.validator.MaxBytes(); max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, r, &ValidationError{Fields: map[string]string{
				"file": fmt.Sprintf("file must be at most %d bytes", h.validator.MaxBytes()),
			}}, "upload rejected")
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, r, &ValidationError{Fields: map[string]string{
				"file": "No file was submitted.",
			}}, "upload rejected")
		default:
			writeError(w, r, apperrors.Newf(apperrors.ErrIO, http.StatusBadRequest, "parsing upload: %v", err), "could not read upload")
		}
		return
	}
	defer file.Close()

	hash, content, err := fingerprint.Read(file)
	if err != nil {
		writeError(w, r, err, "could not read upload")
		return
	}
	if err := h.validator.Upload(header.Filename, content); err != nil {
		writeError(w, r, err, "upload rejected")
		return
	}

	sub, err := h.submitter.Submit(ctx, content, header.Filename, hash)
	if err != nil {
		writeError(w, r, err, "document could not be queued")
		return
	}
	logger.FromContext(ctx).Info("document submitted",
		"fingerprint", sub.Hash,
		"task_id", sub.TaskID,
		"duplicate", sub.Duplicate,
		"bytes", len(content),
	)
	writeData(w, http.StatusCreated, sub)
}

// ListDocuments returns all documents, or the three most recent when
// order_by=created_at.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{Recent: r.URL.Query().Get("order_by") == "created_at"}
	docs, err := h.docs.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeData(w, http.StatusOK, docs)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "document not found")
		return
	}
	writeData(w, http.StatusOK, doc)
}

// UpdateDocument renames a document. Content and status are not editable.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		FileName string `json:"file_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &ValidationError{Fields: map[string]string{"body": "invalid JSON body"}}, "update rejected")
		return
	}
	if err := h.validator.FileName(req.FileName); err != nil {
		writeError(w, r, err, "update rejected")
		return
	}
	doc, err := h.docs.UpdateFileName(r.Context(), id, req.FileName)
	if err != nil {
		writeError(w, r, err, "document not found")
		return
	}
	writeData(w, http.StatusOK, doc)
}

// DeleteDocument removes a document with its processed output and drops
// the status cache entry so the same content can be processed again.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "document not found")
		return
	}
	if err := h.cache.Delete(r.Context(), doc.ContentHash); err != nil {
		logger.FromContext(r.Context()).Warn("status cache entry not removed",
			"fingerprint", doc.ContentHash,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProcessed(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.ListProcessed(r.Context())
	if err != nil {
		writeError(w, r, err, "failed to list processed documents")
		return
	}
	if docs == nil {
		docs = []document.ProcessedDocument{}
	}
	writeData(w, http.StatusOK, docs)
}

func (h *Handler) GetProcessed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.docs.GetProcessed(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "processed document not found")
		return
	}
	writeData(w, http.StatusOK, p)
}

// TaskStatus reports task, document and cache status for a task id.
func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err, "failed to resolve task")
		return
	}
	writeData(w, http.StatusOK, res)
}

// RevokeTask asks workers to stop a task. Finished tasks are unaffected and
// their state is returned unchanged. A revoked task that has already started
// loses its status cache entry, so the same bytes can be submitted again.
func (h *Handler) RevokeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := h.docs.Revoke(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err, "failed to revoke task")
		return
	}
	if task.State == document.TaskRevoked && task.Fingerprint != "" {
		if _, err := h.cache.Forget(r.Context(), task.Fingerprint, task.ID); err != nil {
			logger.FromContext(r.Context()).Warn("status cache entry not removed",
				"fingerprint", task.Fingerprint,
				"task_id", task.ID,
				"error", err,
			)
		}
	}
	writeData(w, http.StatusOK, map[string]any{
		"task_id":     task.ID,
		"task_status": task.State,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "no such id"), "not found")
		return 0, false
	}
	return id, true
}
