package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, password_salt, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, []byte(u.PasswordHash), u.PasswordSalt, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByUsername looks up a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.DB.GetContext(ctx, &u, `SELECT * FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// GetUserByID looks up a user by id.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	err := s.DB.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// UpdateUserPassword sets a new password hash/salt for a user.
func (s *Store) UpdateUserPassword(ctx context.Context, userID uuid.UUID, hash, salt []byte) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, password_salt = $2 WHERE id = $3`,
		hash, salt, userID)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

// CreateUserToken inserts a new login token row.
func (s *Store) CreateUserToken(ctx context.Context, t *model.UserToken) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO user_tokens (id, user_id, token_hash, token_salt, valid_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.TokenHash, t.TokenSalt, t.ValidUntil, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user token: %w", err)
	}
	return nil
}

// GetUserToken looks up a token row by the user id it claims to belong to;
// the caller verifies the secret against TokenHash/TokenSalt.
func (s *Store) GetUserToken(ctx context.Context, tokenID, userID uuid.UUID) (*model.UserToken, error) {
	var t model.UserToken
	err := s.DB.GetContext(ctx, &t,
		`SELECT * FROM user_tokens WHERE id = $1 AND user_id = $2`, tokenID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user token: %w", err)
	}
	return &t, nil
}

// DeleteUserTokensForUser removes every token belonging to a user, used by
// change_password to invalidate all existing sessions.
func (s *Store) DeleteUserTokensForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	return nil
}

// DeleteUserToken removes a single token, used by logout.
func (s *Store) DeleteUserToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM user_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("delete user token: %w", err)
	}
	return nil
}

// SweepExpiredUserTokens deletes every token past its valid_until, run
// periodically by the sweeper (§4.4). Returns the number of rows removed.
func (s *Store) SweepExpiredUserTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM user_tokens WHERE valid_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired user tokens: %w", err)
	}
	return res.RowsAffected()
}

// CountActiveUserTokens reports how many non-expired tokens exist.
func (s *Store) CountActiveUserTokens(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.DB.GetContext(ctx, &n, `SELECT count(*) FROM user_tokens WHERE valid_until >= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("count active user tokens: %w", err)
	}
	return n, nil
}
