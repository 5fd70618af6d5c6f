package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/transcribee/coordinator/internal/apierr"
	"github.com/transcribee/coordinator/internal/auth"
	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/blob"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
	"github.com/transcribee/coordinator/internal/tasks"
)

// supportedLanguages bounds the language codes a new document may declare;
// an unrecognised one is rejected with a 422 rather than accepted and later
// failing inside a transcription worker.
var supportedLanguages = map[string]bool{
	"en": true, "de": true, "fr": true, "es": true, "it": true,
	"nl": true, "pt": true, "pl": true, "ru": true, "uk": true,
}

const maxUploadSize = 1 << 30 // 1 GiB, bounds the in-memory multipart form parse.

// handleCreateDocument serves POST /documents/, a multipart upload that
// creates the document, stores the uploaded media file, and spawns the
// default task graph, all inside one transaction.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) error {
	u := userFromContext(r.Context())
	if u == nil {
		return apierr.Internal("authenticated request missing its user")
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return apierr.Conflict("malformed multipart body")
	}

	name := r.FormValue("name")
	modelName := r.FormValue("model")
	language := r.FormValue("language")
	if name == "" || modelName == "" || language == "" {
		return apierr.Validation("name, model and language are required")
	}
	if !supportedLanguages[language] {
		return apierr.Validation("unsupported language: " + language)
	}

	var numberOfSpeakers *int
	if raw := r.FormValue("number_of_speakers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apierr.Validation("number_of_speakers must be an integer")
		}
		numberOfSpeakers = &n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return apierr.Validation("file is required")
	}
	defer file.Close()

	blobID := uuid.New().String()
	if err := s.blobs.Put(r.Context(), blobID, file, header.Size, header.Header.Get("Content-Type")); err != nil {
		return err
	}

	doc := &model.Document{
		ID:        uuid.New(),
		UserID:    u.ID,
		Name:      name,
		CreatedAt: time.Now(),
		ChangedAt: time.Now(),
	}

	if err := s.createDocumentWithTaskGraph(r.Context(), doc, blobID, header, tasks.NewDocumentTaskGraphParams{
		Model:            modelName,
		Lang:             language,
		NumberOfSpeakers: numberOfSpeakers,
	}); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, doc)
	return nil
}

// createDocumentWithTaskGraph inserts the document, its initial media
// file, and its default task graph inside one transaction, so a document
// is never observable without the work that will populate it.
func (s *Server) createDocumentWithTaskGraph(ctx context.Context, doc *model.Document, blobID string, header *multipart.FileHeader, params tasks.NewDocumentTaskGraphParams) error {
	return s.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := store.CreateDocumentTx(ctx, tx, doc); err != nil {
			return err
		}
		media := &model.DocumentMediaFile{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			BlobID:      blobID,
			ContentType: header.Header.Get("Content-Type"),
			Tags:        pq.StringArray{"original"},
			CreatedAt:   time.Now(),
		}
		if err := store.AddMediaFileTx(ctx, tx, media); err != nil {
			return err
		}
		_, err := tasks.CreateDefaultTaskGraph(ctx, tx, doc.ID, params, s.dispatcher.TaskAttemptLimit())
		return err
	})
}

// handleListDocuments serves GET /documents/, embedding each document's
// tasks so a client can render progress without a second round trip.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) error {
	u := userFromContext(r.Context())
	if u == nil {
		return apierr.Internal("authenticated request missing its user")
	}

	docs, err := s.store.ListDocumentsForUser(r.Context(), u.ID)
	if err != nil {
		return err
	}

	out := make([]map[string]interface{}, 0, len(docs))
	for i := range docs {
		tasksForDoc, err := s.store.ListTasksForDocument(r.Context(), docs[i].ID)
		if err != nil {
			return err
		}
		out = append(out, map[string]interface{}{
			"id":         docs[i].ID,
			"name":       docs[i].Name,
			"duration":   docs[i].Duration,
			"created_at": docs[i].CreatedAt,
			"changed_at": docs[i].ChangedAt,
			"tasks":      tasksForDoc,
		})
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

// handleGetDocument serves GET /documents/{id}/, embedding the caller's
// resolved access alongside the document.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":              info.Document.ID,
		"name":            info.Document.Name,
		"duration":        info.Document.Duration,
		"created_at":      info.Document.CreatedAt,
		"changed_at":      info.Document.ChangedAt,
		"can_write":       info.Level.AtLeast(authz.LevelReadWrite),
		"has_full_access": info.Level.AtLeast(authz.LevelFull),
	})
	return nil
}

type patchDocumentRequest struct {
	Name *string `json:"name"`
}

// handlePatchDocument serves PATCH /documents/{id}/, FULL access only.
func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	var req patchDocumentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apierr.Conflict("malformed request body")
		}
	}
	if req.Name != nil {
		if *req.Name == "" {
			return apierr.Validation("name cannot be empty")
		}
		if err := s.store.UpdateDocumentName(r.Context(), info.Document.ID, *req.Name); err != nil {
			return err
		}
		info.Document.Name = *req.Name
	}
	writeJSON(w, http.StatusOK, info.Document)
	return nil
}

// handleDeleteDocument serves DELETE /documents/{id}/. Cascades to every
// task, attempt, update and share token via the store's foreign keys; blob
// deletion failures are logged, not surfaced, since a document delete must
// not fail because a single blob is unreachable.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	files, err := s.store.ListMediaFiles(r.Context(), info.Document.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(r.Context(), info.Document.ID); err != nil {
		return err
	}
	for _, f := range files {
		if err := s.blobs.Delete(r.Context(), f.BlobID); err != nil {
			s.log.Warn().Err(err).Str("blob_id", f.BlobID).Msg("failed to delete orphaned blob")
		}
	}
	s.resolver.Invalidate(info.Document.ID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleListTasks serves GET /documents/{id}/tasks/.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	tasksForDoc, err := s.store.ListTasksForDocument(r.Context(), info.Document.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, tasksForDoc)
	return nil
}

type createShareTokenRequest struct {
	Name       string     `json:"name"`
	ValidUntil *time.Time `json:"valid_until"`
	CanWrite   bool       `json:"can_write"`
}

// handleCreateShareToken serves POST /documents/{id}/share_tokens/, FULL access only.
func (s *Server) handleCreateShareToken(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	var req createShareTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}
	if req.Name == "" {
		return apierr.Validation("name is required")
	}

	token, err := generateShareToken()
	if err != nil {
		return err
	}

	t := &model.DocumentShareToken{
		ID:         uuid.New(),
		DocumentID: info.Document.ID,
		Token:      token,
		Name:       req.Name,
		ValidUntil: req.ValidUntil,
		CanWrite:   req.CanWrite,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateShareToken(r.Context(), t); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, t)
	return nil
}

// handleListShareTokens serves GET /documents/{id}/share_tokens/, FULL access only.
func (s *Server) handleListShareTokens(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	list, err := s.store.ListShareTokens(r.Context(), info.Document.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// handleDeleteShareToken serves DELETE /documents/{id}/share_tokens/{tid}/, FULL access only.
func (s *Server) handleDeleteShareToken(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	tokenID, err := pathID(r, "tid")
	if err != nil {
		return err
	}
	if err := s.store.DeleteShareToken(r.Context(), info.Document.ID, tokenID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.NotFound("share token not found")
		}
		return err
	}
	s.resolver.Invalidate(info.Document.ID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleAddMediaFile serves POST /documents/{id}/add_media_file/,
// reserved for a worker that currently holds a REENCODE attempt on the
// document.
func (s *Server) handleAddMediaFile(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	if info.WorkerID == nil {
		return apierr.Forbidden("requires a worker holding a REENCODE attempt")
	}
	holds, err := s.store.WorkerHoldsAttemptOnTaskType(r.Context(), *info.WorkerID, info.Document.ID, string(model.TaskReencode))
	if err != nil {
		return err
	}
	if !holds {
		return apierr.Forbidden("requires a worker holding a REENCODE attempt")
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return apierr.Conflict("malformed multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return apierr.Validation("file is required")
	}
	defer file.Close()

	blobID := uuid.New().String()
	if err := s.blobs.Put(r.Context(), blobID, file, header.Size, header.Header.Get("Content-Type")); err != nil {
		return err
	}

	m := &model.DocumentMediaFile{
		ID:          uuid.New(),
		DocumentID:  info.Document.ID,
		BlobID:      blobID,
		ContentType: header.Header.Get("Content-Type"),
		Tags:        pq.StringArray(r.MultipartForm.Value["tags"]),
		CreatedAt:   time.Now(),
	}
	if err := s.store.AddMediaFile(r.Context(), m); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, info.Document)
	return nil
}

type setDurationRequest struct {
	Duration float64 `json:"duration"`
}

// handleSetDuration serves POST /documents/{id}/set_duration/, reserved
// for a worker holding a REENCODE attempt.
func (s *Server) handleSetDuration(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	if info.WorkerID == nil {
		return apierr.Forbidden("requires a worker holding a REENCODE attempt")
	}
	holds, err := s.store.WorkerHoldsAttemptOnTaskType(r.Context(), *info.WorkerID, info.Document.ID, string(model.TaskReencode))
	if err != nil {
		return err
	}
	if !holds {
		return apierr.Forbidden("requires a worker holding a REENCODE attempt")
	}

	var req setDurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}
	if err := s.store.SetDocumentDuration(r.Context(), info.Document.ID, req.Duration); err != nil {
		return err
	}
	info.Document.Duration = &req.Duration
	writeJSON(w, http.StatusOK, info.Document)
	return nil
}

// handleExport serves GET /documents/{id}/export/: creates an EXPORT task
// carrying the request's format query parameter, waits on the dispatcher's
// single-use export channel, and returns the worker's result verbatim as
// the response body.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, info *authz.Info) error {
	params := model.ExportParameters{Format: r.URL.Query().Get("format")}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	task := tasks.NewTask(info.Document.ID, string(model.TaskExport), raw, s.dispatcher.TaskAttemptLimit())
	if err := s.store.CreateStandaloneTask(r.Context(), task); err != nil {
		return err
	}

	result, err := s.dispatcher.Exports().Await(r.Context(), task.ID)
	if errors.Is(err, tasks.ErrExportTimedOut) {
		return apierr.Internal("export timed out waiting for a worker")
	}
	if err != nil {
		return err
	}
	if len(result.Error) > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]json.RawMessage{"detail": result.Error})
		return nil
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Result)
	return nil
}

// handleSync upgrades GET /documents/sync/{id}/ to a websocket connection,
// resolving credentials from query parameters since browsers cannot set
// headers on a websocket upgrade request.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	docID, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	info, err := s.resolver.Resolve(r.Context(), docID, credentialsFromQuery(r))
	if errors.Is(err, authz.ErrDocumentNotFound) {
		writeError(w, s.log, apierr.NotFound("document not found"))
		return
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !info.Level.AtLeast(authz.LevelReadOnly) {
		writeError(w, s.log, apierr.Forbidden("insufficient access level"))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	if err := s.syncConn.Serve(r.Context(), ws, docID, info.Level); err != nil {
		s.log.Debug().Err(err).Str("document_id", docID.String()).Msg("sync connection closed")
	}
}

// handleServeMedia serves GET /media/{id}/, verifying the request's signed
// query parameters before streaming the blob. This is the endpoint every
// signed media URL embedded in a document descriptor ultimately resolves to.
func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) error {
	blobID := r.PathValue("id")

	timestamp, err := strconv.ParseInt(r.URL.Query().Get("timestamp"), 10, 64)
	if err != nil {
		return apierr.Conflict("malformed timestamp")
	}
	signature := r.URL.Query().Get("X-Transcribee-Signature")

	if err := s.signer.Verify(blobID, timestamp, signature, time.Now()); err != nil {
		return apierr.AuthFailure("invalid or expired signature")
	}

	rc, err := s.blobs.Get(r.Context(), blobID)
	if errors.Is(err, blob.ErrNotFound) {
		return apierr.NotFound("media not found")
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, rc)
	return err
}

// generateShareToken mints a URL-safe opaque token, the same primitive
// worker tokens use.
func generateShareToken() (string, error) {
	return auth.GenerateOpaqueToken()
}
