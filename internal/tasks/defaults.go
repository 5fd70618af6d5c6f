package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// NewDocumentTaskGraphParams carries the worker-defined parameters the
// default task graph fans out to its members when a new document is created.
type NewDocumentTaskGraphParams struct {
	Model            string
	Lang             string
	NumberOfSpeakers *int
}

// wantsSpeakerIdentification reports whether p requests a speaker count
// that actually needs the IDENTIFY_SPEAKERS task: the chain only grows a
// third link when a count outside {0, 1} is requested (an unset, zero, or
// single-speaker request has nothing to diarize).
func (p NewDocumentTaskGraphParams) wantsSpeakerIdentification() bool {
	return p.NumberOfSpeakers != nil && *p.NumberOfSpeakers != 0 && *p.NumberOfSpeakers != 1
}

// CreateDefaultTaskGraph inserts the fixed REENCODE -> TRANSCRIBE ->
// IDENTIFY_SPEAKERS (iff requested) dependency chain for a newly created
// document, inside tx so a document is never observable without its task
// graph. attemptLimit seeds each task's remaining_attempts.
func CreateDefaultTaskGraph(ctx context.Context, tx *sqlx.Tx, documentID uuid.UUID, params NewDocumentTaskGraphParams, attemptLimit int) ([]model.Task, error) {
	reencode := NewTask(documentID, string(model.TaskReencode), nil, attemptLimit)
	if err := store.CreateTask(ctx, tx, reencode); err != nil {
		return nil, fmt.Errorf("create default task graph: %w", err)
	}

	transcribeParams, err := json.Marshal(model.TranscribeParameters{Model: params.Model, Lang: params.Lang})
	if err != nil {
		return nil, fmt.Errorf("create default task graph: %w", err)
	}
	transcribe := NewTask(documentID, string(model.TaskTranscribe), transcribeParams, attemptLimit)
	if err := store.CreateTask(ctx, tx, transcribe); err != nil {
		return nil, fmt.Errorf("create default task graph: %w", err)
	}
	if err := store.CreateTaskDependency(ctx, tx, model.TaskDependency{DependentID: transcribe.ID, DependantOnID: reencode.ID}); err != nil {
		return nil, fmt.Errorf("create default task graph: %w", err)
	}

	tasks := []model.Task{*reencode, *transcribe}

	if params.wantsSpeakerIdentification() {
		speakerParams, err := json.Marshal(model.SpeakerIdentificationParameters{NumberOfSpeakers: params.NumberOfSpeakers})
		if err != nil {
			return nil, fmt.Errorf("create default task graph: %w", err)
		}
		identify := NewTask(documentID, string(model.TaskIdentifySpeakers), speakerParams, attemptLimit)
		if err := store.CreateTask(ctx, tx, identify); err != nil {
			return nil, fmt.Errorf("create default task graph: %w", err)
		}
		if err := store.CreateTaskDependency(ctx, tx, model.TaskDependency{DependentID: identify.ID, DependantOnID: transcribe.ID}); err != nil {
			return nil, fmt.Errorf("create default task graph: %w", err)
		}
		tasks = append(tasks, *identify)
	}

	return tasks, nil
}
