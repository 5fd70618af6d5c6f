package store

import (
	"context"
	"strings"
)

// schema lists the DDL statements, one per entity, applied in dependency
// order. Foreign keys on document-owned rows cascade; the task to
// current_attempt edge is ON DELETE SET NULL to break the cycle between
// tasks and task_attempts.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash BYTEA NOT NULL,
		password_salt BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash BYTEA NOT NULL,
		token_salt BYTEA NOT NULL,
		valid_until TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_valid_until ON user_tokens(valid_until)`,
	`CREATE TABLE IF NOT EXISTS workers (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		deactivated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		duration DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS document_media_files (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		blob_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS document_updates (
		id BIGSERIAL PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		change_bytes BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_updates_doc_id ON document_updates(document_id, id)`,
	`CREATE TABLE IF NOT EXISTS document_share_tokens (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		valid_until TIMESTAMPTZ,
		can_write BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		task_type TEXT NOT NULL,
		task_parameters JSONB NOT NULL DEFAULT '{}',
		state TEXT NOT NULL DEFAULT 'NEW',
		current_attempt_id UUID,
		attempt_counter INT NOT NULL DEFAULT 0,
		remaining_attempts INT NOT NULL,
		state_changed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_document_id ON tasks(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claimable ON tasks(task_type, state, current_attempt_id, state_changed_at)`,
	`CREATE TABLE IF NOT EXISTS task_attempts (
		id UUID PRIMARY KEY,
		task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		assigned_worker_id UUID REFERENCES workers(id) ON DELETE SET NULL,
		attempt_number INT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_keepalive TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ,
		progress DOUBLE PRECISION,
		extra_data JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_attempts_task_id ON task_attempts(task_id)`,
	`ALTER TABLE tasks ADD CONSTRAINT fk_tasks_current_attempt
		FOREIGN KEY (current_attempt_id) REFERENCES task_attempts(id) ON DELETE SET NULL`,
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		dependent_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		dependant_on_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		PRIMARY KEY (dependent_id, dependant_on_id)
	)`,
}

// migrate applies the schema idempotently. The ALTER TABLE ... ADD
// CONSTRAINT statement is not itself idempotent under CREATE TABLE IF NOT
// EXISTS semantics, so it is guarded separately.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if strings.Contains(stmt, "ADD CONSTRAINT fk_tasks_current_attempt") {
			var exists bool
			err := s.DB.GetContext(ctx, &exists, `
				SELECT EXISTS (
					SELECT 1 FROM pg_constraint WHERE conname = 'fk_tasks_current_attempt'
				)`)
			if err == nil && exists {
				continue
			}
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
