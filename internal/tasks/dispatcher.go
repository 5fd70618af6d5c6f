// Package tasks implements the task-and-document subsystem's central
// engine: CRUD on tasks, attempts and dependencies, the
// claim/keepalive/complete/fail state machine, the timeout and
// expired-token sweepers, the export result channel, and the default task
// graph a new document spawns.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// ErrNoAttempt is returned by Keepalive/MarkCompleted/MarkFailed when the
// task has no current attempt. This is a protocol violation by the caller,
// not an expected failure mode, and is reported as an internal error.
var ErrNoAttempt = errors.New("task has no current attempt")

// ErrNotHolder is returned when the authenticated worker does not hold the
// task's current attempt.
var ErrNotHolder = errors.New("worker does not hold the current attempt")

// ErrNotFound re-exports store.ErrNotFound for callers that only import tasks.
var ErrNotFound = store.ErrNotFound

// Dispatcher implements the claim/keepalive/complete/fail state machine
// against a shared *store.Store.
type Dispatcher struct {
	store            *store.Store
	log              zerolog.Logger
	taskAttemptLimit int
	workerTimeout    time.Duration
	exports          *ExportRegistry
}

// NewDispatcher creates a Dispatcher. taskAttemptLimit is the default
// remaining_attempts given to newly created tasks; workerTimeout bounds how
// long an attempt may go silent before the sweeper reclaims it.
func NewDispatcher(s *store.Store, taskAttemptLimit int, workerTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:            s,
		log:              log.With().Str("component", "dispatcher").Logger(),
		taskAttemptLimit: taskAttemptLimit,
		workerTimeout:    workerTimeout,
		exports:          NewExportRegistry(10 * time.Minute),
	}
}

// Exports returns the dispatcher's export result registry, so the HTTP
// layer can hand its Await/Deliver calls to the same instance sweeper
// goroutines touch.
func (d *Dispatcher) Exports() *ExportRegistry { return d.exports }

// TaskAttemptLimit returns the default remaining_attempts new tasks are
// seeded with, so callers building a task graph do not need their own copy
// of the configured limit.
func (d *Dispatcher) TaskAttemptLimit() int { return d.taskAttemptLimit }

// NewTask constructs a Task in its initial NEW state.
func NewTask(documentID uuid.UUID, taskType string, parameters json.RawMessage, attemptLimit int) *model.Task {
	now := time.Now()
	if len(parameters) == 0 {
		parameters = json.RawMessage(`{}`)
	}
	return &model.Task{
		ID:                uuid.New(),
		DocumentID:        documentID,
		TaskType:          taskType,
		TaskParameters:    parameters,
		State:             model.TaskStateNew,
		AttemptCounter:    0,
		RemainingAttempts: attemptLimit,
		StateChangedAt:    now,
		CreatedAt:         now,
	}
}

// ClaimUnassignedTask atomically leases one ready task of any of taskTypes
// to worker. Returns (nil, nil) if no task is ready.
func (d *Dispatcher) ClaimUnassignedTask(ctx context.Context, workerID uuid.UUID, taskTypes []string) (*model.Task, error) {
	if len(taskTypes) == 0 {
		return nil, fmt.Errorf("claim unassigned task: no task types requested")
	}

	var claimed *model.Task
	err := d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		taskID, err := store.ClaimableTaskIDTx(ctx, tx, taskTypes)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		task, err := store.GetTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}

		attempt := &model.TaskAttempt{
			ID:               uuid.New(),
			TaskID:           task.ID,
			AssignedWorkerID: &workerID,
			AttemptNumber:    task.AttemptCounter + 1,
			StartedAt:        time.Now(),
			LastKeepalive:    time.Now(),
		}
		if err := store.CreateTaskAttempt(ctx, tx, attempt); err != nil {
			return err
		}

		task.CurrentAttemptID = &attempt.ID
		task.AttemptCounter++
		task.RemainingAttempts--
		task.State = model.TaskStateAssigned
		if err := store.UpdateTaskAssigned(ctx, tx, task.ID, attempt.ID, task.AttemptCounter, task.RemainingAttempts); err != nil {
			return err
		}

		claimed = task
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim unassigned task: %w", err)
	}
	if claimed != nil {
		d.log.Info().Str("task_id", claimed.ID.String()).Str("worker_id", workerID.String()).
			Str("task_type", claimed.TaskType).Msg("task claimed")
	}
	return claimed, nil
}

// Keepalive records a liveness update from the worker holding taskID's
// current attempt. Returns ErrNoAttempt if the task has no current attempt
// (a protocol violation) and ErrNotHolder if workerID is not the holder.
func (d *Dispatcher) Keepalive(ctx context.Context, workerID, taskID uuid.UUID, progress *float64) error {
	return d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		task, err := store.GetTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.CurrentAttemptID == nil {
			return ErrNoAttempt
		}
		attempt, err := store.GetTaskAttemptTx(ctx, tx, *task.CurrentAttemptID)
		if err != nil {
			return err
		}
		if attempt.AssignedWorkerID == nil || *attempt.AssignedWorkerID != workerID {
			return ErrNotHolder
		}
		return store.UpdateTaskAttemptKeepalive(ctx, tx, attempt.ID, progress)
	})
}

// MarkCompleted transitions taskID's current attempt to a terminal success.
func (d *Dispatcher) MarkCompleted(ctx context.Context, workerID, taskID uuid.UUID, extraData json.RawMessage) error {
	err := d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		task, attempt, err := d.lockOwnedAttempt(ctx, tx, workerID, taskID)
		if err != nil {
			return err
		}
		if err := store.EndTaskAttempt(ctx, tx, attempt.ID, extraData); err != nil {
			return err
		}
		return store.FinishTask(ctx, tx, task.ID, model.TaskStateCompleted, task.RemainingAttempts)
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	d.exports.Deliver(taskID, ExportResult{Result: extraData})
	return nil
}

// MarkFailed transitions taskID's current attempt to a failure, requeuing
// it to NEW if remaining_attempts > 0 or terminating it as FAILED
// otherwise.
func (d *Dispatcher) MarkFailed(ctx context.Context, workerID, taskID uuid.UUID, extraData json.RawMessage) error {
	var finalState model.TaskState
	err := d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		task, attempt, err := d.lockOwnedAttempt(ctx, tx, workerID, taskID)
		if err != nil {
			return err
		}
		if err := store.EndTaskAttempt(ctx, tx, attempt.ID, extraData); err != nil {
			return err
		}
		finalState = model.TaskStateNew
		if task.RemainingAttempts <= 0 {
			finalState = model.TaskStateFailed
		}
		return store.FinishTask(ctx, tx, task.ID, finalState, task.RemainingAttempts)
	})
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if finalState == model.TaskStateFailed {
		errData := extraData
		if len(errData) == 0 {
			errData = json.RawMessage(`"export task failed"`)
		}
		d.exports.Deliver(taskID, ExportResult{Error: errData})
	}
	return nil
}

// lockOwnedAttempt locks taskID's row, verifies it has a current attempt
// held by workerID, and returns both. A nil workerID skips the ownership
// check.
func (d *Dispatcher) lockOwnedAttempt(ctx context.Context, tx *sqlx.Tx, workerID, taskID uuid.UUID) (*model.Task, *model.TaskAttempt, error) {
	task, err := store.GetTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.CurrentAttemptID == nil {
		return nil, nil, ErrNoAttempt
	}
	attempt, err := store.GetTaskAttemptTx(ctx, tx, *task.CurrentAttemptID)
	if err != nil {
		return nil, nil, err
	}
	if workerID != uuid.Nil && (attempt.AssignedWorkerID == nil || *attempt.AssignedWorkerID != workerID) {
		return nil, nil, ErrNotHolder
	}
	return task, attempt, nil
}
