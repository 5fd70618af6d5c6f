package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/apierr"
	"github.com/transcribee/coordinator/internal/auth"
	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// credentialsFromHeaders reads the Authorization/Share-Token headers into
// an authz.Credentials, the HTTP-request counterpart of credentialsFromQuery
// used by the websocket handshake. The user and worker schemes share the
// Authorization header and are mutually exclusive, while the share token
// rides its own header and can accompany either.
func credentialsFromHeaders(r *http.Request) authz.Credentials {
	var c authz.Credentials
	cred := auth.ParseAuthorization(r.Header.Get("Authorization"), "", "")
	switch cred.Scheme {
	case auth.SchemeUser:
		c.UserToken = cred.Token
	case auth.SchemeWorker:
		c.WorkerToken = cred.Token
	}
	c.ShareToken = r.Header.Get("Share-Token")
	return c
}

// credentialsFromQuery reads the same three credentials from query
// parameters, used by the websocket handshake since browsers cannot set
// headers on a websocket upgrade request.
func credentialsFromQuery(r *http.Request) authz.Credentials {
	q := r.URL.Query()
	return authz.Credentials{
		UserToken:   q.Get("user_token"),
		WorkerToken: q.Get("worker_token"),
		ShareToken:  q.Get("share_token"),
	}
}

// pathID extracts and parses the named wildcard segment as a uuid,
// returning a Conflict apierr on a malformed id.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.UUID{}, apierr.Conflict("malformed id")
	}
	return id, nil
}

// withDocument resolves document_id + whatever credentials the request
// carries into an *authz.Info, then dispatches to next only if the
// resolved level meets minLevel. Authorization is computed once and handed
// to the handler as a typed result instead of being re-derived per handler.
func (s *Server) withDocument(minLevel authz.Level, next func(w http.ResponseWriter, r *http.Request, info *authz.Info) error) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		docID, err := pathID(r, "id")
		if err != nil {
			return err
		}

		info, err := s.resolver.Resolve(r.Context(), docID, credentialsFromHeaders(r))
		if errors.Is(err, authz.ErrDocumentNotFound) {
			return apierr.NotFound("document not found")
		}
		if err != nil {
			return err
		}
		if !info.Level.AtLeast(minLevel) {
			return apierr.Forbidden("insufficient access level")
		}
		if info.WorkerID != nil {
			s.live.Touch(*info.WorkerID, "")
		}
		return next(w, r, info)
	}
}

// userContextKey is the context key a resolved *model.User is stashed
// under by withUser, for handlers that need the caller's identity.
type userContextKey struct{}

// withUser authenticates the Authorization: Token header and hands the
// resolved user to next via the request context. Used by every
// user-account endpoint that is not document-scoped.
func (s *Server) withUser(next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		authorization := r.Header.Get("Authorization")
		if !strings.HasPrefix(authorization, "Token ") {
			return apierr.AuthFailure("missing user token")
		}
		token := strings.TrimPrefix(authorization, "Token ")
		userID, secret, ok := auth.DecodeUserToken(token)
		if !ok {
			return apierr.Conflict("malformed user token")
		}

		u, err := s.store.GetUserByID(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			return apierr.AuthFailure("invalid user token")
		}
		if err != nil {
			return err
		}

		matched, err := s.findValidUserToken(r.Context(), userID, secret)
		if err != nil {
			return err
		}
		if matched == nil {
			return apierr.AuthFailure("invalid or expired user token")
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, u)
		ctx = context.WithValue(ctx, tokenContextKey{}, matched)
		return next(w, r.WithContext(ctx))
	}
}

// findValidUserToken scans userID's non-expired tokens for one whose hash
// matches secret, the same check authz.Resolver applies for document
// FULL access, reused here for account-level (non-document) endpoints.
func (s *Server) findValidUserToken(ctx context.Context, userID uuid.UUID, secret []byte) (*model.UserToken, error) {
	rows, err := s.store.DB.QueryxContext(ctx,
		`SELECT * FROM user_tokens WHERE user_id = $1 AND valid_until >= now()`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t model.UserToken
		if err := rows.StructScan(&t); err != nil {
			return nil, err
		}
		ok, err := auth.VerifyUserTokenSecret(secret, t.TokenHash, t.TokenSalt)
		if err != nil {
			return nil, err
		}
		if ok {
			return &t, nil
		}
	}
	return nil, rows.Err()
}

func userFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userContextKey{}).(*model.User)
	return u
}

// tokenContextKey is the context key the validated *model.UserToken is
// stashed under by withUser, used by logout to delete only the current
// session rather than every token the user holds.
type tokenContextKey struct{}

func tokenFromContext(ctx context.Context) *model.UserToken {
	t, _ := ctx.Value(tokenContextKey{}).(*model.UserToken)
	return t
}

// workerContextKey is the context key a resolved *model.Worker is stashed
// under by withWorker.
type workerContextKey struct{}

// withWorker authenticates the Authorization: Worker header against the
// worker table, the credential scheme every /tasks/ endpoint requires.
func (s *Server) withWorker(next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		authorization := r.Header.Get("Authorization")
		if !strings.HasPrefix(authorization, "Worker ") {
			return apierr.AuthFailure("missing worker token")
		}
		token := strings.TrimPrefix(authorization, "Worker ")

		worker, err := s.store.GetWorkerByToken(r.Context(), token)
		if errors.Is(err, store.ErrNotFound) {
			return apierr.AuthFailure("invalid worker token")
		}
		if err != nil {
			return err
		}
		if !worker.Active() {
			return apierr.AuthFailure("worker deactivated")
		}

		s.live.Touch(worker.ID, worker.Name)
		if err := s.store.TouchWorkerLastSeen(r.Context(), worker.ID); err != nil {
			return err
		}

		ctx := context.WithValue(r.Context(), workerContextKey{}, worker)
		return next(w, r.WithContext(ctx))
	}
}

func workerFromContext(ctx context.Context) *model.Worker {
	w, _ := ctx.Value(workerContextKey{}).(*model.Worker)
	return w
}

// withAdmin authenticates the Api-Token header against the single admin
// bearer token, used by worker management endpoints.
func (s *Server) withAdmin(next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		token := r.Header.Get("Api-Token")
		if token == "" || s.cfg.ApiToken == "" || !auth.ConstantTimeEquals(token, s.cfg.ApiToken) {
			return apierr.AuthFailure("missing or invalid admin token")
		}
		return next(w, r)
	}
}
