package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/transcribee/coordinator/internal/apierr"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck
	}
}

// detail is the error envelope every handler renders on failure.
type detail struct {
	Detail string `json:"detail"`
}

// writeError renders err as {"detail": "..."}. An *apierr.Error carries its
// own status; anything else is logged and surfaced as a 500, never leaking
// the underlying message to the caller.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		if apiErr.Err != nil {
			log.Error().Err(apiErr.Err).Int("status", apiErr.Status).Msg(apiErr.Message)
		}
		writeJSON(w, apiErr.Status, detail{Detail: apiErr.Message})
		return
	}
	log.Error().Err(err).Msg("unhandled internal error")
	writeJSON(w, http.StatusInternalServerError, detail{Detail: "internal server error"})
}

// apiHandler is a route handler that returns its failure instead of
// writing it directly, so route registration can funnel every error
// through writeError uniformly.
type apiHandler func(w http.ResponseWriter, r *http.Request) error

func (s *Server) wrap(h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, s.log, err)
		}
	}
}
