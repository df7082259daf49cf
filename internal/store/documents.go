package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

// RecentLimit is how many documents a created_at-ordered listing returns.
const RecentLimit = 3

const documentColumns = `d.id, d.file_name, d.content_hash, d.status, d.task_id, d.created_at, d.updated_at`

// Exists reports whether a document with this content hash is stored.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM documents WHERE content_hash = $1`), hash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking document %s: %w", hash, err)
	}
	return n > 0, nil
}

// Create inserts a pending document owned by taskID. A second document with
// the same hash fails with ErrConstraintViolation; callers treat that as
// another writer having won.
func (s *Store) Create(ctx context.Context, hash, fileName string, content []byte, taskID string) (*document.Document, error) {
	now := s.now()
	doc := &document.Document{
		FileName:    fileName,
		Content:     content,
		ContentHash: hash,
		Status:      document.StatusPending,
		TaskID:      taskID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.DB.QueryRowContext(ctx, s.q(`
		INSERT INTO documents (file_name, file_content, content_hash, status, task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`),
		fileName, content, hash, string(document.StatusPending), nullString(taskID), now,
	).Scan(&doc.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("document %s: %w", hash, apperrors.ErrConstraintViolation)
		}
		return nil, fmt.Errorf("inserting document %s: %w", hash, err)
	}
	return doc, nil
}

// GetByHash returns the document with this content hash, including its
// content bytes.
func (s *Store) GetByHash(ctx context.Context, hash string) (*document.Document, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+documentColumns+`, d.file_content
		FROM documents d WHERE d.content_hash = $1`), hash)
	doc, err := scanDocument(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", hash, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", hash, err)
	}
	return doc, nil
}

// Get returns a document by id with its processed output, if any.
func (s *Store) Get(ctx context.Context, id int64) (*document.Document, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+documentColumns+`,
		       p.id, p.markdown_content, p.embeddings, p.created_at, p.updated_at
		FROM documents d
		LEFT JOIN processed_documents p ON p.document_id = d.id
		WHERE d.id = $1`), id)

	var (
		doc                  document.Document
		taskID               sql.NullString
		created, updated     dbTime
		pID                  sql.NullInt64
		markdown, embeddings sql.NullString
		pCreated, pUpdated   dbTime
	)
	err := row.Scan(&doc.ID, &doc.FileName, &doc.ContentHash, &doc.Status, &taskID, &created, &updated,
		&pID, &markdown, &embeddings, &pCreated, &pUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %d: %w", id, err)
	}
	doc.TaskID = taskID.String
	doc.CreatedAt, doc.UpdatedAt = created.Time, updated.Time
	if pID.Valid {
		doc.Processed = &document.ProcessedDocument{
			ID:              pID.Int64,
			DocumentID:      doc.ID,
			MarkdownContent: markdown.String,
			Embeddings:      rawJSON(embeddings),
			CreatedAt:       pCreated.Time,
			UpdatedAt:       pUpdated.Time,
		}
	}
	return &doc, nil
}

// ListOptions narrows List.
type ListOptions struct {
	// Recent returns only the RecentLimit newest documents.
	Recent bool
}

// List returns documents newest first, without content bytes.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d ORDER BY d.created_at DESC, d.id DESC`
	if opts.Recent {
		query += fmt.Sprintf(" LIMIT %d", RecentLimit)
	}
	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := make([]document.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateFileName renames a document. Content and hash are immutable.
func (s *Store) UpdateFileName(ctx context.Context, id int64, fileName string) (*document.Document, error) {
	res, err := s.db.DB.ExecContext(ctx,
		s.q(`UPDATE documents SET file_name = $1, updated_at = $2 WHERE id = $3`),
		fileName, s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("renaming document %d: %w", id, err)
	}
	if err := expectRow(res, fmt.Sprintf("document %d", id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a document and, by cascade, its processed output. The
// deleted row is returned so callers can invalidate derived state.
func (s *Store) Delete(ctx context.Context, id int64) (*document.Document, error) {
	var doc *document.Document
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`SELECT `+documentColumns+` FROM documents d WHERE d.id = $1`), id)
		var err error
		doc, err = scanDocument(row, false)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %d: %w", id, apperrors.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading document %d: %w", id, err)
		}
		// explicit for drivers where foreign keys are off
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM processed_documents WHERE document_id = $1`), id); err != nil {
			return fmt.Errorf("deleting processed document for %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = $1`), id); err != nil {
			return fmt.Errorf("deleting document %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SetStatus updates a document's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id int64, status document.Status) error {
	res, err := s.db.DB.ExecContext(ctx,
		s.q(`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`),
		string(status), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("setting status of document %d: %w", id, err)
	}
	return expectRow(res, fmt.Sprintf("document %d", id))
}

// ClaimFailed moves a failed document back to pending under taskID. Exactly
// one of several concurrent claimers gets true.
func (s *Store) ClaimFailed(ctx context.Context, id int64, taskID string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, s.q(`
		UPDATE documents SET status = $1, task_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5`),
		string(document.StatusPending), taskID, s.now(), id, string(document.StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("claiming document %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming document %d: %w", id, err)
	}
	return n == 1, nil
}

// ClaimRevoked hands a pending document owned by a revoked task to taskID.
// The update only applies while owner still holds the row and is revoked,
// so exactly one of several concurrent claimers gets true.
func (s *Store) ClaimRevoked(ctx context.Context, id int64, owner, taskID string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, s.q(`
		UPDATE documents SET task_id = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND task_id = $5
		AND EXISTS (SELECT 1 FROM task_results WHERE task_id = $5 AND state = $6)`),
		taskID, s.now(), id, string(document.StatusPending), owner, string(document.TaskRevoked),
	)
	if err != nil {
		return false, fmt.Errorf("reclaiming document %d from %s: %w", id, owner, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaiming document %d from %s: %w", id, owner, err)
	}
	return n == 1, nil
}

// RecordResult inserts the processed output for a document. A second call
// for the same document fails with ErrConstraintViolation.
func (s *Store) RecordResult(ctx context.Context, documentID int64, markdown string, embeddings json.RawMessage) (*document.ProcessedDocument, error) {
	var p *document.ProcessedDocument
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.insertProcessed(ctx, tx, documentID, markdown, embeddings)
		return err
	})
	return p, err
}

// Complete records the processed output and marks the document completed in
// one transaction, so readers never see one without the other. An output
// already present from an earlier delivery is kept and the document is
// still marked completed.
func (s *Store) Complete(ctx context.Context, documentID int64, markdown string, embeddings json.RawMessage) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.insertProcessed(ctx, tx, documentID, markdown, embeddings); err != nil &&
			!errors.Is(err, apperrors.ErrConstraintViolation) {
			return err
		}
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`),
			string(document.StatusCompleted), s.now(), documentID,
		)
		if err != nil {
			return fmt.Errorf("completing document %d: %w", documentID, err)
		}
		return expectRow(res, fmt.Sprintf("document %d", documentID))
	})
}

// insertProcessed skips the row on conflict instead of raising, so a
// duplicate leaves tx usable on postgres. The skip is reported as
// ErrConstraintViolation.
func (s *Store) insertProcessed(ctx context.Context, tx *sql.Tx, documentID int64, markdown string, embeddings json.RawMessage) (*document.ProcessedDocument, error) {
	now := s.now()
	p := &document.ProcessedDocument{
		DocumentID:      documentID,
		MarkdownContent: markdown,
		Embeddings:      embeddings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := tx.QueryRowContext(ctx, s.q(`
		INSERT INTO processed_documents (document_id, markdown_content, embeddings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (document_id) DO NOTHING
		RETURNING id`),
		documentID, markdown, nullJSON(embeddings), now,
	).Scan(&p.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("processed document for %d: %w", documentID, apperrors.ErrConstraintViolation)
		}
		return nil, fmt.Errorf("inserting processed document for %d: %w", documentID, err)
	}
	return p, nil
}

const processedColumns = `id, document_id, markdown_content, embeddings, created_at, updated_at`

// ListProcessed returns all processed documents, newest first.
func (s *Store) ListProcessed(ctx context.Context) ([]document.ProcessedDocument, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+processedColumns+` FROM processed_documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing processed documents: %w", err)
	}
	defer rows.Close()
	out := make([]document.ProcessedDocument, 0)
	for rows.Next() {
		p, err := scanProcessed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning processed document: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetProcessed returns a processed document by its own id.
func (s *Store) GetProcessed(ctx context.Context, id int64) (*document.ProcessedDocument, error) {
	row := s.db.DB.QueryRowContext(ctx,
		s.q(`SELECT `+processedColumns+` FROM processed_documents WHERE id = $1`), id)
	p, err := scanProcessed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processed document %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading processed document %d: %w", id, err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, withContent bool) (*document.Document, error) {
	var (
		doc              document.Document
		taskID           sql.NullString
		created, updated dbTime
	)
	dest := []any{&doc.ID, &doc.FileName, &doc.ContentHash, &doc.Status, &taskID, &created, &updated}
	if withContent {
		dest = append(dest, &doc.Content)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	doc.TaskID = taskID.String
	doc.CreatedAt, doc.UpdatedAt = created.Time, updated.Time
	return &doc, nil
}

func scanProcessed(row scanner) (*document.ProcessedDocument, error) {
	var (
		p                document.ProcessedDocument
		embeddings       sql.NullString
		created, updated dbTime
	)
	if err := row.Scan(&p.ID, &p.DocumentID, &p.MarkdownContent, &embeddings, &created, &updated); err != nil {
		return nil, err
	}
	p.Embeddings = rawJSON(embeddings)
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return &p, nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

func nullJSON(b json.RawMessage) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return nil
}
