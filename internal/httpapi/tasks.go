package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/apierr"
	"github.com/transcribee/coordinator/internal/store"
	"github.com/transcribee/coordinator/internal/tasks"
)

// handleClaimTask serves POST /tasks/claim_unassigned_task/, leasing one
// ready task of any of the requested ?task_type= values to the
// authenticated worker. Returns the claimed task embedded with a
// signed-URL document descriptor, or null if nothing is ready.
func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) error {
	worker := workerFromContext(r.Context())
	taskTypes := r.URL.Query()["task_type"]
	if len(taskTypes) == 0 {
		return apierr.Validation("at least one task_type is required")
	}

	task, err := s.dispatcher.ClaimUnassignedTask(r.Context(), worker.ID, taskTypes)
	if err != nil {
		return err
	}
	if task == nil {
		writeJSON(w, http.StatusOK, json.RawMessage("null"))
		return nil
	}

	descriptor, err := s.buildDocumentDescriptor(r.Context(), task.DocumentID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":     task,
		"document": descriptor,
	})
	return nil
}

type keepaliveRequest struct {
	Progress *float64 `json:"progress,omitempty"`
}

// handleKeepalive serves POST /tasks/{id}/keepalive/.
func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) error {
	worker := workerFromContext(r.Context())
	taskID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	var req keepaliveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apierr.Conflict("malformed request body")
		}
	}

	if err := s.dispatcher.Keepalive(r.Context(), worker.ID, taskID, req.Progress); err != nil {
		return taskDispatchError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleMarkCompleted serves POST /tasks/{id}/mark_completed/.
func (s *Server) handleMarkCompleted(w http.ResponseWriter, r *http.Request) error {
	worker := workerFromContext(r.Context())
	taskID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	extraData, err := s.readAndValidateExtraData(r, taskID)
	if err != nil {
		return err
	}

	if err := s.dispatcher.MarkCompleted(r.Context(), worker.ID, taskID, extraData); err != nil {
		return taskDispatchError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleMarkFailed serves POST /tasks/{id}/mark_failed/.
func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) error {
	worker := workerFromContext(r.Context())
	taskID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	extraData, err := s.readAndValidateExtraData(r, taskID)
	if err != nil {
		return err
	}

	if err := s.dispatcher.MarkFailed(r.Context(), worker.ID, taskID, extraData); err != nil {
		return taskDispatchError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// readAndValidateExtraData reads the raw extra_data body and, if a schema
// is registered for taskID's task_type, validates it before the
// dispatcher commits any state change.
func (s *Server) readAndValidateExtraData(r *http.Request, taskID uuid.UUID) (json.RawMessage, error) {
	var raw json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, apierr.Conflict("malformed request body")
		}
	}
	if len(raw) == 0 {
		return raw, nil
	}

	task, err := s.store.GetTask(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.NotFound("task not found")
	}
	if err != nil {
		return nil, err
	}
	if err := tasks.ValidateExtraData(s.validator, task.TaskType, raw); err != nil {
		return nil, apierr.Validation(err.Error())
	}
	return raw, nil
}

// taskDispatchError translates the Dispatcher's typed errors into their
// corresponding HTTP status.
func taskDispatchError(err error) error {
	switch {
	case errors.Is(err, tasks.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return apierr.NotFound("task not found")
	case errors.Is(err, tasks.ErrNotHolder):
		return apierr.Forbidden("worker does not hold this task's current attempt")
	case errors.Is(err, tasks.ErrNoAttempt):
		return apierr.Internal("task has no current attempt")
	default:
		return err
	}
}

// buildDocumentDescriptor assembles the document plus every attached media
// file's signed URL, the descriptor embedded in a claimed task so a worker
// can fetch its input without a second authenticated round trip.
func (s *Server) buildDocumentDescriptor(ctx context.Context, documentID uuid.UUID) (map[string]interface{}, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListMediaFiles(ctx, documentID)
	if err != nil {
		return nil, err
	}

	media := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		url, err := s.signedMediaURL(f.BlobID)
		if err != nil {
			return nil, err
		}
		media = append(media, map[string]interface{}{
			"id":           f.ID,
			"content_type": f.ContentType,
			"tags":         f.Tags,
			"url":          url,
		})
	}

	return map[string]interface{}{
		"id":          doc.ID,
		"name":        doc.Name,
		"duration":    doc.Duration,
		"media_files": media,
	}, nil
}

// signedMediaURL builds the relative /api/v1/media/<id>/?... URL, signed
// with the current timestamp.
func (s *Server) signedMediaURL(blobID string) (string, error) {
	sig, ts, err := s.signer.Sign(blobID, time.Now())
	if err != nil {
		return "", err
	}
	q := url.Values{
		"timestamp":               {strconv.FormatInt(ts, 10)},
		"X-Transcribee-Signature": {sig},
	}
	return "/api/v1/media/" + blobID + "/?" + q.Encode(), nil
}
