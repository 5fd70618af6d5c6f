package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribee/coordinator/internal/model"
)

// newTestStore connects to DATABASE_URL, skipping the test when it is
// unset. These are integration tests against real Postgres row-locking and
// constraint behavior, not unit tests against a mock driver.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping store integration test")
	}
	s, err := Open(dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store) *model.User {
	t.Helper()
	u := &model.User{ID: uuid.New(), Username: "user-" + uuid.New().String(), PasswordHash: "h", PasswordSalt: []byte("s"), CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s)

	got, err := s.GetUserByUsername(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, []byte("newhash"), []byte("newsalt")))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)
}

func TestUserTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)

	tok := &model.UserToken{ID: uuid.New(), UserID: u.ID, TokenHash: []byte("h"), TokenSalt: []byte("s"), ValidUntil: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	require.NoError(t, s.CreateUserToken(ctx, tok))

	got, err := s.GetUserToken(ctx, tok.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	n, err := s.CountActiveUserTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	require.NoError(t, s.DeleteUserTokensForUser(ctx, u.ID))
	_, err = s.GetUserToken(ctx, tok.ID, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpiredUserTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)

	expired := &model.UserToken{ID: uuid.New(), UserID: u.ID, TokenHash: []byte("h"), TokenSalt: []byte("s"), ValidUntil: time.Now().Add(-time.Hour), CreatedAt: time.Now()}
	require.NoError(t, s.CreateUserToken(ctx, expired))

	n, err := s.SweepExpiredUserTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = s.GetUserToken(ctx, expired.ID, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentCRUDAndCascadingDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)

	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))

	docs, err := s.ListDocumentsForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.UpdateDocumentName(ctx, d.ID, "renamed"))
	got, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	media := &model.DocumentMediaFile{ID: uuid.New(), DocumentID: d.ID, BlobID: "media/abc", ContentType: "audio/wav", Tags: []string{"original"}, CreatedAt: time.Now()}
	require.NoError(t, s.AddMediaFile(ctx, media))

	files, err := s.ListMediaFiles(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []string(media.Tags), []string(files[0].Tags))

	require.NoError(t, s.DeleteDocument(ctx, d.ID))
	_, err = s.GetDocument(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	files, err = s.ListMediaFiles(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, files, "media files must cascade-delete with their document")
}

func TestDocumentUpdatesBacklog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)
	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))

	id1, err := s.AppendDocumentUpdate(ctx, d.ID, []byte("change-1"))
	require.NoError(t, err)
	_, err = s.AppendDocumentUpdate(ctx, d.ID, []byte("change-2"))
	require.NoError(t, err)

	updates, err := s.ListDocumentUpdatesSince(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	updates, err = s.ListDocumentUpdatesSince(ctx, d.ID, id1)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []byte("change-2"), updates[0].ChangeBytes)
}

func TestShareTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)
	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))

	tok := &model.DocumentShareToken{ID: uuid.New(), DocumentID: d.ID, Token: uuid.New().String(), Name: "viewer link", CanWrite: false, CreatedAt: time.Now()}
	require.NoError(t, s.CreateShareToken(ctx, tok))

	got, err := s.GetShareTokenByToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	tokens, err := s.ListShareTokens(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	require.NoError(t, s.DeleteShareToken(ctx, d.ID, tok.ID))
	assert.ErrorIs(t, s.DeleteShareToken(ctx, d.ID, tok.ID), ErrNotFound)
}

func TestWorkerLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := &model.Worker{ID: uuid.New(), Name: "w1", Token: uuid.New().String(), LastSeen: time.Now(), CreatedAt: time.Now()}
	require.NoError(t, s.CreateWorker(ctx, w))

	got, err := s.GetWorkerByToken(ctx, w.Token)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.True(t, got.Active())

	require.NoError(t, s.TouchWorkerLastSeen(ctx, w.ID))
	require.NoError(t, s.DeactivateWorker(ctx, w.ID))

	got, err = s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())

	assert.ErrorIs(t, s.DeactivateWorker(ctx, w.ID), ErrNotFound)
}

func TestWorkerHoldsAttemptOnDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s)
	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))
	w := &model.Worker{ID: uuid.New(), Name: "w", Token: uuid.New().String(), LastSeen: time.Now(), CreatedAt: time.Now()}
	require.NoError(t, s.CreateWorker(ctx, w))

	holds, err := s.WorkerHoldsAttemptOnDocument(ctx, w.ID, d.ID)
	require.NoError(t, err)
	assert.False(t, holds)

	task := &model.Task{ID: uuid.New(), DocumentID: d.ID, TaskType: "REENCODE", TaskParameters: []byte(`{}`), State: model.TaskStateNew, RemainingAttempts: 5, StateChangedAt: time.Now(), CreatedAt: time.Now()}
	attempt := &model.TaskAttempt{ID: uuid.New(), TaskID: task.ID, AssignedWorkerID: &w.ID, AttemptNumber: 1, StartedAt: time.Now(), LastKeepalive: time.Now()}

	require.NoError(t, s.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := CreateTask(ctx, tx, task); err != nil {
			return err
		}
		if err := CreateTaskAttempt(ctx, tx, attempt); err != nil {
			return err
		}
		return UpdateTaskAssigned(ctx, tx, task.ID, attempt.ID, 1, 4)
	}))

	holds, err = s.WorkerHoldsAttemptOnDocument(ctx, w.ID, d.ID)
	require.NoError(t, err)
	assert.True(t, holds)
}
