// Package authz computes the effective AuthLevel a request proves toward a
// document, given whatever combination of user/worker/share bearer
// credentials accompanies it. Each credential kind is checked in priority
// order and the strongest proof wins, so a request carrying both a user
// token and a read-only share token is authorized at the user's level.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/transcribee/coordinator/internal/auth"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// Level is one of the coordinator's ordered authorization levels; higher
// values grant everything lower values do.
type Level int

const (
	LevelNone Level = iota
	LevelReadOnly
	LevelReadWrite
	LevelWorker
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "FULL"
	case LevelWorker:
		return "WORKER"
	case LevelReadWrite:
		return "READ_WRITE"
	case LevelReadOnly:
		return "READ_ONLY"
	default:
		return "NONE"
	}
}

// AtLeast reports whether l meets or exceeds min.
func (l Level) AtLeast(min Level) bool { return l >= min }

// Credentials carries the raw bearer values a request (HTTP header or
// websocket query parameter) presented; any subset may be empty.
type Credentials struct {
	UserToken   string
	WorkerToken string
	ShareToken  string
}

// Info is the resolved authorization context a handler receives: the
// document in question plus the level the caller proved toward it.
type Info struct {
	Document *model.Document
	Level    Level
	// UserID and WorkerID identify the authenticated principal when the
	// corresponding credential proved valid, for audit and ownership checks.
	UserID   *uuid.UUID
	WorkerID *uuid.UUID
}

var (
	// ErrDocumentNotFound is returned when the referenced document does
	// not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// Resolver computes AuthLevel against the store, memoizing recent results.
type Resolver struct {
	store *store.Store
	cache *Cache
}

// NewResolver creates a Resolver backed by s, memoizing results for ttl.
func NewResolver(s *store.Store, ttl time.Duration) *Resolver {
	return &Resolver{store: s, cache: NewCache(ttl)}
}

// Resolve computes the AuthLevel creds prove toward documentID. Returns
// ErrDocumentNotFound if the document does not exist, regardless of
// credential validity (the resolver always checks document existence
// before credentials).
func (r *Resolver) Resolve(ctx context.Context, documentID uuid.UUID, creds Credentials) (*Info, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve auth level: %w", err)
	}

	key := cacheKey(documentID, creds)
	if level, userID, workerID, ok := r.cache.Get(key); ok {
		return &Info{Document: doc, Level: level, UserID: userID, WorkerID: workerID}, nil
	}

	info := &Info{Document: doc, Level: LevelNone}

	if creds.UserToken != "" {
		if userID, ok, err := r.checkUserToken(ctx, creds.UserToken); err != nil {
			return nil, err
		} else if ok && *userID == doc.UserID {
			info.UserID = userID
			info.Level = LevelFull
		}
	}

	if info.Level < LevelWorker && creds.WorkerToken != "" {
		w, err := r.store.GetWorkerByToken(ctx, creds.WorkerToken)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve worker credential: %w", err)
		}
		if err == nil && w.Active() {
			holds, err := r.store.WorkerHoldsAttemptOnDocument(ctx, w.ID, documentID)
			if err != nil {
				return nil, err
			}
			if holds {
				info.WorkerID = &w.ID
				info.Level = LevelWorker
			}
		}
	}

	if info.Level < LevelReadWrite && creds.ShareToken != "" {
		level, ok, err := r.checkShareToken(ctx, creds.ShareToken, documentID)
		if err != nil {
			return nil, err
		}
		if ok && level > info.Level {
			info.Level = level
		}
	}

	r.cache.Put(key, info.Level, info.UserID, info.WorkerID)
	return info, nil
}

// Invalidate drops every cached entry for documentID, called after any
// document or share-token mutation.
func (r *Resolver) Invalidate(documentID uuid.UUID) {
	r.cache.InvalidateDocument(documentID)
}

func (r *Resolver) checkUserToken(ctx context.Context, token string) (*uuid.UUID, bool, error) {
	userID, secret, ok := auth.DecodeUserToken(token)
	if !ok {
		return nil, false, nil
	}

	if _, err := r.store.GetUserByID(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("lookup user for token: %w", err)
	}

	t, err := r.findValidUserToken(ctx, userID, secret)
	if err != nil {
		return nil, false, err
	}
	if t == nil {
		return nil, false, nil
	}
	return &userID, true, nil
}

// findValidUserToken scans the user's non-expired tokens for one whose
// hash matches secret. A user may hold several concurrent tokens (one per
// login), so this is not a single indexed lookup.
func (r *Resolver) findValidUserToken(ctx context.Context, userID uuid.UUID, secret []byte) (*model.UserToken, error) {
	rows, err := r.store.DB.QueryxContext(ctx,
		`SELECT * FROM user_tokens WHERE user_id = $1 AND valid_until >= $2`, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("scan user tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.UserToken
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("scan user token row: %w", err)
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

func (r *Resolver) checkShareToken(ctx context.Context, token string, documentID uuid.UUID) (Level, bool, error) {
	t, err := r.store.GetShareTokenByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return LevelNone, false, nil
	}
	if err != nil {
		return LevelNone, false, fmt.Errorf("lookup share token: %w", err)
	}
	if t.DocumentID != documentID || t.Expired(time.Now()) {
		return LevelNone, false, nil
	}
	if t.CanWrite {
		return LevelReadWrite, true, nil
	}
	return LevelReadOnly, true, nil
}
