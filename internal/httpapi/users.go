package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/transcribee/coordinator/internal/apierr"
	"github.com/transcribee/coordinator/internal/auth"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleUserCreate serves POST /users/create/.
func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) error {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}
	if req.Username == "" || req.Password == "" {
		return apierr.Validation("username and password are required")
	}

	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	u := &model.User{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: string(hash),
		PasswordSalt: salt,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict("username already taken")
		}
		return err
	}

	writeJSON(w, http.StatusCreated, map[string]string{"username": u.Username})
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleUserLogin serves POST /users/login/.
func (s *Server) handleUserLogin(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}

	u, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return apierr.Forbidden("invalid username or password")
	}
	if err != nil {
		return err
	}

	ok, err := auth.VerifyPassword(req.Password, []byte(u.PasswordHash), u.PasswordSalt)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Forbidden("invalid username or password")
	}

	secret, hash, salt, err := auth.GenerateUserTokenSecret()
	if err != nil {
		return err
	}

	t := &model.UserToken{
		ID:         uuid.New(),
		UserID:     u.ID,
		TokenHash:  hash,
		TokenSalt:  salt,
		ValidUntil: time.Now().Add(s.cfg.UserTokenTTL),
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateUserToken(r.Context(), t); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": auth.EncodeUserToken(u.ID, secret)})
	return nil
}

// handleUserLogout serves POST /users/logout/, invalidating only the
// session token presented on this request.
func (s *Server) handleUserLogout(w http.ResponseWriter, r *http.Request) error {
	t := tokenFromContext(r.Context())
	if t == nil {
		return apierr.Internal("authenticated request missing its token")
	}
	if err := s.store.DeleteUserToken(r.Context(), t.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleUserMe serves GET /users/me/.
func (s *Server) handleUserMe(w http.ResponseWriter, r *http.Request) error {
	u := userFromContext(r.Context())
	if u == nil {
		return apierr.Internal("authenticated request missing its user")
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": u.Username})
	return nil
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// handleChangePassword serves POST /users/change_password/. Invalidates
// every UserToken belonging to the user, not just the session that made
// this request — the original transcribee_backend's set_password admin
// command and its change_password view both have this effect.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) error {
	u := userFromContext(r.Context())
	if u == nil {
		return apierr.Internal("authenticated request missing its user")
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Conflict("malformed request body")
	}
	if len(req.NewPassword) < 6 {
		return apierr.Validation("new_password must be at least 6 characters")
	}

	ok, err := auth.VerifyPassword(req.OldPassword, []byte(u.PasswordHash), u.PasswordSalt)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Forbidden("old_password is incorrect")
	}

	hash, salt, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(r.Context(), u.ID, hash, salt); err != nil {
		return err
	}
	if err := s.store.DeleteUserTokensForUser(r.Context(), u.ID); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]string{"username": u.Username})
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (code 23505), used to map a duplicate username to Conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
