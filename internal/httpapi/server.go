// Package httpapi implements the coordinator's request surface: the REST
// routes and the websocket upgrade into internal/sync, wired directly on
// top of internal/authz, internal/tasks and internal/store. Routing uses
// Go's method-and-wildcard ServeMux rather than a third-party router.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/blob"
	"github.com/transcribee/coordinator/internal/config"
	"github.com/transcribee/coordinator/internal/tasks"
	"github.com/transcribee/coordinator/pkg/metrics"
	"github.com/transcribee/coordinator/pkg/schema"

	synchub "github.com/transcribee/coordinator/internal/sync"
	"github.com/transcribee/coordinator/internal/store"
)

// Server holds every dependency the request surface dispatches against.
type Server struct {
	store      *store.Store
	resolver   *authz.Resolver
	dispatcher *tasks.Dispatcher
	hub        *synchub.Hub
	syncConn   *synchub.Conn
	blobs      blob.Backend
	signer     *blob.Signer
	validator  *schema.Validator
	live       *tasks.LiveWorkers
	metrics    *metrics.Metrics
	cfg        *config.Config
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// New wires a Server from its dependencies. cfg supplies the admin token
// and the user-token lifetime the route handlers need.
func New(
	s *store.Store,
	resolver *authz.Resolver,
	dispatcher *tasks.Dispatcher,
	hub *synchub.Hub,
	blobs blob.Backend,
	signer *blob.Signer,
	validator *schema.Validator,
	live *tasks.LiveWorkers,
	m *metrics.Metrics,
	cfg *config.Config,
	log zerolog.Logger,
) *Server {
	return &Server{
		store:      s,
		resolver:   resolver,
		dispatcher: dispatcher,
		hub:        hub,
		syncConn:   synchub.NewConn(hub, s, log),
		blobs:      blobs,
		signer:     signer,
		validator:  validator,
		live:       live,
		metrics:    m,
		cfg:        cfg,
		log:        log.With().Str("component", "httpapi").Logger(),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Routes builds the full route table, instrumented for Prometheus.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/users/create/", s.wrap(s.handleUserCreate))
	mux.HandleFunc("POST /api/v1/users/login/", s.wrap(s.handleUserLogin))
	mux.HandleFunc("POST /api/v1/users/logout/", s.wrap(s.withUser(s.handleUserLogout)))
	mux.HandleFunc("GET /api/v1/users/me/", s.wrap(s.withUser(s.handleUserMe)))
	mux.HandleFunc("POST /api/v1/users/change_password/", s.wrap(s.withUser(s.handleChangePassword)))

	mux.HandleFunc("POST /api/v1/documents/", s.wrap(s.withUser(s.handleCreateDocument)))
	mux.HandleFunc("GET /api/v1/documents/", s.wrap(s.withUser(s.handleListDocuments)))
	mux.HandleFunc("GET /api/v1/documents/{id}/", s.wrap(s.withDocument(authz.LevelReadOnly, s.handleGetDocument)))
	mux.HandleFunc("PATCH /api/v1/documents/{id}/", s.wrap(s.withDocument(authz.LevelFull, s.handlePatchDocument)))
	mux.HandleFunc("DELETE /api/v1/documents/{id}/", s.wrap(s.withDocument(authz.LevelFull, s.handleDeleteDocument)))
	mux.HandleFunc("GET /api/v1/documents/{id}/tasks/", s.wrap(s.withDocument(authz.LevelReadOnly, s.handleListTasks)))
	mux.HandleFunc("GET /api/v1/documents/{id}/export/", s.wrap(s.withDocument(authz.LevelReadOnly, s.handleExport)))
	mux.HandleFunc("POST /api/v1/documents/{id}/add_media_file/", s.wrap(s.withDocument(authz.LevelWorker, s.handleAddMediaFile)))
	mux.HandleFunc("POST /api/v1/documents/{id}/set_duration/", s.wrap(s.withDocument(authz.LevelWorker, s.handleSetDuration)))

	mux.HandleFunc("POST /api/v1/documents/{id}/share_tokens/", s.wrap(s.withDocument(authz.LevelFull, s.handleCreateShareToken)))
	mux.HandleFunc("GET /api/v1/documents/{id}/share_tokens/", s.wrap(s.withDocument(authz.LevelFull, s.handleListShareTokens)))
	mux.HandleFunc("DELETE /api/v1/documents/{id}/share_tokens/{tid}/", s.wrap(s.withDocument(authz.LevelFull, s.handleDeleteShareToken)))

	mux.HandleFunc("GET /api/v1/documents/sync/{id}/", s.handleSync)
	mux.HandleFunc("GET /api/v1/media/{id}/", s.wrap(s.handleServeMedia))

	mux.HandleFunc("POST /api/v1/tasks/claim_unassigned_task/", s.wrap(s.withWorker(s.handleClaimTask)))
	mux.HandleFunc("POST /api/v1/tasks/{id}/keepalive/", s.wrap(s.withWorker(s.handleKeepalive)))
	mux.HandleFunc("POST /api/v1/tasks/{id}/mark_completed/", s.wrap(s.withWorker(s.handleMarkCompleted)))
	mux.HandleFunc("POST /api/v1/tasks/{id}/mark_failed/", s.wrap(s.withWorker(s.handleMarkFailed)))

	mux.HandleFunc("POST /api/v1/worker/create/", s.wrap(s.withAdmin(s.handleWorkerCreate)))
	mux.HandleFunc("POST /api/v1/worker/deactivate/", s.wrap(s.withAdmin(s.handleWorkerDeactivate)))

	return s.instrumentHTTP(mux)
}

// handleHealth serves GET /health, used by orchestrators as a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrumentHTTP wraps next to record request counts and durations, reading
// the final status code back off a responseWriter that captures it.
func (s *Server) instrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := normalizePath(r.URL.Path)
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.code)).Inc()
			s.metrics.HTTPDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// the metrics middleware.
type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses every path segment that looks like a
// uuid (or other per-resource id) to ":id", keeping metrics cardinality
// bounded regardless of how many documents or tasks exist.
func normalizePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if len(seg) < 8 {
		return false
	}
	for _, r := range seg {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F' || r == '-') {
			return false
		}
	}
	return true
}
