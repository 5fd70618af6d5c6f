package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/model"
)

// CreateWorker inserts a new worker identity.
func (s *Store) CreateWorker(ctx context.Context, w *model.Worker) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO workers (id, name, token, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.Name, w.Token, w.LastSeen, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

// GetWorkerByToken looks up a worker by its cleartext token. Deactivated
// workers are returned too; callers check Active().
func (s *Store) GetWorkerByToken(ctx context.Context, token string) (*model.Worker, error) {
	var w model.Worker
	err := s.DB.GetContext(ctx, &w, `SELECT * FROM workers WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker by token: %w", err)
	}
	return &w, nil
}

// GetWorker looks up a worker by id.
func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	var w model.Worker
	err := s.DB.GetContext(ctx, &w, `SELECT * FROM workers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return &w, nil
}

// ListWorkers lists every registered worker.
func (s *Store) ListWorkers(ctx context.Context) ([]model.Worker, error) {
	var workers []model.Worker
	err := s.DB.SelectContext(ctx, &workers, `SELECT * FROM workers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return workers, nil
}

// DeactivateWorker marks a worker as deactivated; its token stops
// authenticating.
func (s *Store) DeactivateWorker(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE workers SET deactivated_at = now() WHERE id = $1 AND deactivated_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchWorkerLastSeen updates a worker's last_seen timestamp.
func (s *Store) TouchWorkerLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE workers SET last_seen = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch worker: %w", err)
	}
	return nil
}

// WorkerHoldsAttemptOnDocument reports whether workerID currently holds the
// live attempt (current_attempt_id) of any task belonging to documentID.
// This is the authoritative AuthLevel WORKER check (§4.3); it always reads
// Postgres directly rather than the in-memory LiveWorkers tracker.
func (s *Store) WorkerHoldsAttemptOnDocument(ctx context.Context, workerID, documentID uuid.UUID) (bool, error) {
	var holds bool
	err := s.DB.GetContext(ctx, &holds, `
		SELECT EXISTS (
			SELECT 1
			FROM tasks t
			JOIN task_attempts a ON a.id = t.current_attempt_id
			WHERE t.document_id = $1 AND a.assigned_worker_id = $2
		)`, documentID, workerID)
	if err != nil {
		return false, fmt.Errorf("check worker attempt: %w", err)
	}
	return holds, nil
}

// WorkerHoldsAttemptOnTaskType reports whether workerID currently holds the
// live attempt of a task of the given taskType belonging to documentID.
// Stricter than WorkerHoldsAttemptOnDocument: add_media_file/set_duration
// require specifically a REENCODE attempt, not just any task on the
// document.
func (s *Store) WorkerHoldsAttemptOnTaskType(ctx context.Context, workerID, documentID uuid.UUID, taskType string) (bool, error) {
	var holds bool
	err := s.DB.GetContext(ctx, &holds, `
		SELECT EXISTS (
			SELECT 1
			FROM tasks t
			JOIN task_attempts a ON a.id = t.current_attempt_id
			WHERE t.document_id = $1 AND a.assigned_worker_id = $2 AND t.task_type = $3
		)`, documentID, workerID, taskType)
	if err != nil {
		return false, fmt.Errorf("check worker attempt on task type: %w", err)
	}
	return holds, nil
}
