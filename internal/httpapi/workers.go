package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/apierr"
	"github.com/transcribee/coordinator/internal/auth"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

type createWorkerRequest struct {
	Name string `json:"name"`
}

// handleWorkerCreate serves POST /worker/create/, admin-only.
func (s *Server) handleWorkerCreate(w http.ResponseWriter, r *http.Request) error {
	var req createWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}
	if req.Name == "" {
		return apierr.Validation("name is required")
	}

	token, err := auth.GenerateOpaqueToken()
	if err != nil {
		return err
	}

	worker := &model.Worker{
		ID:        uuid.New(),
		Name:      req.Name,
		Token:     token,
		LastSeen:  time.Now(),
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateWorker(r.Context(), worker); err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    worker.ID,
		"name":  worker.Name,
		"token": token,
	})
	return nil
}

type deactivateWorkerRequest struct {
	ID uuid.UUID `json:"id"`
}

// handleWorkerDeactivate serves POST /worker/deactivate/, admin-only.
func (s *Server) handleWorkerDeactivate(w http.ResponseWriter, r *http.Request) error {
	var req deactivateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}

	if err := s.store.DeactivateWorker(r.Context(), req.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.NotFound("worker not found")
		}
		return err
	}
	s.live.Forget(req.ID)

	w.WriteHeader(http.StatusNoContent)
	return nil
}
