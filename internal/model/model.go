// Package model defines the coordinator's persisted entities: users and
// their tokens, workers, documents and their media files and share
// tokens, and the task/attempt graph that drives background processing.
// Every struct carries both db and json tags so it can be scanned
// directly out of Postgres and serialized directly into an API response.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// User is an account that owns documents.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	PasswordSalt []byte    `db:"password_salt" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// UserToken is a bearer session issued at login.
type UserToken struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	TokenHash  []byte    `db:"token_hash" json:"-"`
	TokenSalt  []byte    `db:"token_salt" json:"-"`
	ValidUntil time.Time `db:"valid_until" json:"valid_until"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Worker is a stateless compute worker identity.
type Worker struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Token         string     `db:"token" json:"-"`
	LastSeen      time.Time  `db:"last_seen" json:"last_seen"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether the worker may still authenticate.
func (w *Worker) Active() bool { return w.DeactivatedAt == nil }

// Document is the unit of ownership, collaboration, and cascading deletion.
type Document struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	Duration  *float64  `db:"duration" json:"duration,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// DocumentMediaFile is a blob attached to a document.
type DocumentMediaFile struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DocumentID  uuid.UUID `db:"document_id" json:"document_id"`
	BlobID      string        `db:"blob_id" json:"-"`
	ContentType string        `db:"content_type" json:"content_type"`
	Tags        pq.StringArray `db:"tags" json:"tags"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// DocumentUpdate is one opaque, append-only change record.
type DocumentUpdate struct {
	ID          int64     `db:"id" json:"id"`
	DocumentID  uuid.UUID `db:"document_id" json:"document_id"`
	ChangeBytes []byte    `db:"change_bytes" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DocumentShareToken grants document-scoped access without a user account.
type DocumentShareToken struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	DocumentID uuid.UUID  `db:"document_id" json:"document_id"`
	Token      string     `db:"token" json:"token,omitempty"`
	Name       string     `db:"name" json:"name"`
	ValidUntil *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	CanWrite   bool       `db:"can_write" json:"can_write"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the share token's validity window has passed.
func (t *DocumentShareToken) Expired(now time.Time) bool {
	return t.ValidUntil != nil && now.After(*t.ValidUntil)
}

// TaskType enumerates the well-known worker kinds; unrecognised strings are
// still accepted and stored verbatim so new task types can be rolled out to
// workers before the coordinator knows their name.
type TaskType string

const (
	TaskReencode          TaskType = "REENCODE"
	TaskTranscribe        TaskType = "TRANSCRIBE"
	TaskAlign             TaskType = "ALIGN"
	TaskIdentifySpeakers   TaskType = "IDENTIFY_SPEAKERS"
	TaskExport            TaskType = "EXPORT"
)

// TaskState is one of the four states in the task lifecycle.
type TaskState string

const (
	TaskStateNew       TaskState = "NEW"
	TaskStateAssigned  TaskState = "ASSIGNED"
	TaskStateCompleted TaskState = "COMPLETED"
	TaskStateFailed    TaskState = "FAILED"
)

// Task is a schedulable unit of work belonging to a document.
type Task struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	DocumentID        uuid.UUID       `db:"document_id" json:"document_id"`
	TaskType          string          `db:"task_type" json:"task_type"`
	TaskParameters    json.RawMessage `db:"task_parameters" json:"task_parameters"`
	State             TaskState       `db:"state" json:"state"`
	CurrentAttemptID  *uuid.UUID      `db:"current_attempt_id" json:"current_attempt_id,omitempty"`
	AttemptCounter    int             `db:"attempt_counter" json:"attempt_counter"`
	RemainingAttempts int             `db:"remaining_attempts" json:"remaining_attempts"`
	StateChangedAt    time.Time       `db:"state_changed_at" json:"state_changed_at"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// TaskAttempt is one worker-held lease on a task.
type TaskAttempt struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TaskID           uuid.UUID       `db:"task_id" json:"task_id"`
	AssignedWorkerID *uuid.UUID      `db:"assigned_worker_id" json:"assigned_worker_id,omitempty"`
	AttemptNumber    int             `db:"attempt_number" json:"attempt_number"`
	StartedAt        time.Time       `db:"started_at" json:"started_at"`
	LastKeepalive    time.Time       `db:"last_keepalive" json:"last_keepalive"`
	EndedAt          *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	Progress         *float64        `db:"progress" json:"progress,omitempty"`
	ExtraData        json.RawMessage `db:"extra_data" json:"extra_data,omitempty"`
}

// TaskDependency is a directed "dependent depends on dependant_on" edge.
type TaskDependency struct {
	DependentID   uuid.UUID `db:"dependent_id" json:"dependent_id"`
	DependantOnID uuid.UUID `db:"dependant_on_id" json:"dependant_on_id"`
}
