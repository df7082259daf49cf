package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

// TaskUpdate is a state transition to record for a task. Empty Fingerprint
// and zero Attempts keep the stored values.
type TaskUpdate struct {
	ID          string
	State       document.TaskState
	Fingerprint string
	Attempts    int
	Result      string
	Error       string
}

// GetTask returns the stored result of a task. A task never recorded fails
// with ErrNotFound; pollers report that as PENDING.
func (s *Store) GetTask(ctx context.Context, id string) (*document.Task, error) {
	var (
		t                     document.Task
		fp, result, errString sql.NullString
		created, updated      dbTime
	)
	err := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT task_id, state, fingerprint, attempts, result, error, created_at, updated_at
		FROM task_results WHERE task_id = $1`), id,
	).Scan(&t.ID, &t.State, &fp, &t.Attempts, &result, &errString, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	t.Fingerprint, t.Result, t.Error = fp.String, result.String, errString.String
	t.CreatedAt, t.UpdatedAt = created.Time, updated.Time
	return &t, nil
}

// RecordTask upserts a task's state. A REVOKED task is never moved to
// another state; applied is false when the update was discarded for that
// reason.
func (s *Store) RecordTask(ctx context.Context, u TaskUpdate) (applied bool, err error) {
	now := s.now()
	res, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO task_results (task_id, state, fingerprint, attempts, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			state       = excluded.state,
			fingerprint = COALESCE(excluded.fingerprint, task_results.fingerprint),
			attempts    = CASE WHEN excluded.attempts > 0 THEN excluded.attempts ELSE task_results.attempts END,
			result      = excluded.result,
			error       = excluded.error,
			updated_at  = excluded.updated_at
		WHERE task_results.state <> 'REVOKED'`),
		u.ID, string(u.State), nullString(u.Fingerprint), u.Attempts,
		nullString(u.Result), nullString(u.Error), now,
	)
	if err != nil {
		return false, fmt.Errorf("recording task %s as %s: %w", u.ID, u.State, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording task %s: %w", u.ID, err)
	}
	return n > 0, nil
}

// Revoke marks a task REVOKED unless it already finished. The resulting
// task row is returned.
func (s *Store) Revoke(ctx context.Context, id string) (*document.Task, error) {
	now := s.now()
	_, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO task_results (task_id, state, attempts, created_at, updated_at)
		VALUES ($1, 'REVOKED', 0, $2, $2)
		ON CONFLICT (task_id) DO UPDATE SET
			state      = 'REVOKED',
			updated_at = excluded.updated_at
		WHERE task_results.state NOT IN ('SUCCESS', 'FAILURE')`),
		id, now,
	)
	if err != nil {
		return nil, fmt.Errorf("revoking task %s: %w", id, err)
	}
	s.logger.Info("task revoke recorded", "task_id", id)
	return s.GetTask(ctx, id)
}

// IsRevoked reports whether a task has been revoked.
func (s *Store) IsRevoked(ctx context.Context, id string) (bool, error) {
	t, err := s.GetTask(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.State == document.TaskRevoked, nil
}
