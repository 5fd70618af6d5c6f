package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/transcribee/coordinator/internal/model"
)

// CreateTask inserts a new task row inside tx, in its initial NEW state.
func CreateTask(ctx context.Context, tx *sqlx.Tx, t *model.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, document_id, task_type, task_parameters, state,
			current_attempt_id, attempt_counter, remaining_attempts, state_changed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.DocumentID, t.TaskType, t.TaskParameters, t.State,
		t.CurrentAttemptID, t.AttemptCounter, t.RemainingAttempts, t.StateChangedAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// CreateStandaloneTask inserts a new task outside any existing task graph,
// wrapping CreateTask in its own transaction. Used by export, which
// creates one-shot EXPORT tasks with no dependents or dependencies.
func (s *Store) CreateStandaloneTask(ctx context.Context, t *model.Task) error {
	return s.Transaction(ctx, func(tx *sqlx.Tx) error {
		return CreateTask(ctx, tx, t)
	})
}

// CreateTaskDependency inserts a dependent-on-dependant edge inside tx.
func CreateTaskDependency(ctx context.Context, tx *sqlx.Tx, d model.TaskDependency) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_dependencies (dependent_id, dependant_on_id) VALUES ($1, $2)`,
		d.DependentID, d.DependantOnID)
	if err != nil {
		return fmt.Errorf("create task dependency: %w", err)
	}
	return nil
}

// GetTask looks up a task by id.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var t model.Task
	err := s.DB.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// getTaskTx looks up a task by id inside tx, optionally locking the row.
func getTaskTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, forUpdate bool) (*model.Task, error) {
	q := `SELECT * FROM tasks WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var t model.Task
	err := tx.GetContext(ctx, &t, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// GetTaskForUpdate locks and returns a task row inside tx.
func GetTaskForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Task, error) {
	return getTaskTx(ctx, tx, id, true)
}

// ListTasksForDocument lists every task belonging to a document, oldest
// created first.
func (s *Store) ListTasksForDocument(ctx context.Context, documentID uuid.UUID) ([]model.Task, error) {
	var tasks []model.Task
	err := s.DB.SelectContext(ctx, &tasks,
		`SELECT * FROM tasks WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ClaimableTaskIDTx finds the oldest ready task matching taskTypes and locks
// its row, returning ErrNotFound if none is ready. "Ready" means: task_type
// in the requested set, no current attempt, not terminal, and every
// dependency is COMPLETED. Ordered oldest state_changed_at first, tie-break
// on id, per the claim ordering the dispatcher requires.
func ClaimableTaskIDTx(ctx context.Context, tx *sqlx.Tx, taskTypes []string) (uuid.UUID, error) {
	var id uuid.UUID
	query, args, err := sqlx.In(`
		SELECT t.id
		FROM tasks t
		WHERE t.task_type IN (?)
		  AND t.current_attempt_id IS NULL
		  AND t.state NOT IN ('COMPLETED', 'FAILED')
		  AND NOT EXISTS (
		      SELECT 1
		      FROM task_dependencies d
		      JOIN tasks dep ON dep.id = d.dependant_on_id
		      WHERE d.dependent_id = t.id AND dep.state <> 'COMPLETED'
		  )
		ORDER BY t.state_changed_at, t.id
		LIMIT 1
		FOR UPDATE`, taskTypes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build claim query: %w", err)
	}
	query = tx.Rebind(query)
	err = tx.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find claimable task: %w", err)
	}
	return id, nil
}

// CreateTaskAttempt inserts a new attempt row inside tx.
func CreateTaskAttempt(ctx context.Context, tx *sqlx.Tx, a *model.TaskAttempt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_attempts (id, task_id, assigned_worker_id, attempt_number,
			started_at, last_keepalive, ended_at, progress, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TaskID, a.AssignedWorkerID, a.AttemptNumber,
		a.StartedAt, a.LastKeepalive, a.EndedAt, a.Progress, a.ExtraData)
	if err != nil {
		return fmt.Errorf("create task attempt: %w", err)
	}
	return nil
}

// GetTaskAttemptTx looks up an attempt by id inside tx.
func GetTaskAttemptTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.TaskAttempt, error) {
	var a model.TaskAttempt
	err := tx.GetContext(ctx, &a, `SELECT * FROM task_attempts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task attempt: %w", err)
	}
	return &a, nil
}

// UpdateTaskAssigned sets a task's fields after a successful claim, inside tx.
func UpdateTaskAssigned(ctx context.Context, tx *sqlx.Tx, taskID, attemptID uuid.UUID, attemptCounter, remainingAttempts int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET current_attempt_id = $1, attempt_counter = $2, remaining_attempts = $3,
		    state = 'ASSIGNED', state_changed_at = now()
		WHERE id = $4`,
		attemptID, attemptCounter, remainingAttempts, taskID)
	if err != nil {
		return fmt.Errorf("update task assigned: %w", err)
	}
	return nil
}

// UpdateTaskAttemptKeepalive records a keepalive (and optional progress)
// against an attempt inside tx.
func UpdateTaskAttemptKeepalive(ctx context.Context, tx *sqlx.Tx, attemptID uuid.UUID, progress *float64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE task_attempts SET last_keepalive = now(), progress = COALESCE($1, progress) WHERE id = $2`,
		progress, attemptID)
	if err != nil {
		return fmt.Errorf("update keepalive: %w", err)
	}
	return nil
}

// EndTaskAttempt marks an attempt ended, recording its extra_data, inside tx.
func EndTaskAttempt(ctx context.Context, tx *sqlx.Tx, attemptID uuid.UUID, extraData json.RawMessage) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE task_attempts SET ended_at = now(), last_keepalive = now(), extra_data = $1 WHERE id = $2`,
		extraData, attemptID)
	if err != nil {
		return fmt.Errorf("end task attempt: %w", err)
	}
	return nil
}

// FinishTask transitions a task to a terminal or reclaimable state after its
// current attempt ended, inside tx.
func FinishTask(ctx context.Context, tx *sqlx.Tx, taskID uuid.UUID, state model.TaskState, remainingAttempts int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET current_attempt_id = NULL, remaining_attempts = $1, state = $2, state_changed_at = now()
		WHERE id = $3`,
		remainingAttempts, state, taskID)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

// TimedOutTaskIDsTx finds tasks whose current attempt's last_keepalive is
// older than deadline, locking each task row FOR UPDATE so the sweeper
// cannot race an in-flight claim or keepalive.
func TimedOutTaskIDsTx(ctx context.Context, tx *sqlx.Tx, deadline time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.SelectContext(ctx, &ids, `
		SELECT t.id
		FROM tasks t
		JOIN task_attempts a ON a.id = t.current_attempt_id
		WHERE a.last_keepalive < $1
		FOR UPDATE OF t`, deadline)
	if err != nil {
		return nil, fmt.Errorf("find timed out tasks: %w", err)
	}
	return ids, nil
}
