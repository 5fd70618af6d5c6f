package tasks

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// newTestStore connects to the database named by DATABASE_URL, skipping the
// test when it is unset. Every DB-touching test in this package follows
// this guard rather than mocking *sqlx.DB, since the dispatcher's
// correctness hinges on real row-locking semantics a mock cannot exercise.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping dispatcher integration test")
	}
	s, err := store.Open(dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateUserAndDocument(t *testing.T, s *store.Store) *model.Document {
	t.Helper()
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "doc-owner-" + uuid.New().String(), PasswordHash: "x", PasswordSalt: []byte("y"), CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))

	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "test doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))
	return d
}

func mustCreateWorker(t *testing.T, s *store.Store) *model.Worker {
	t.Helper()
	w := &model.Worker{ID: uuid.New(), Name: "w", Token: uuid.New().String(), LastSeen: time.Now(), CreatedAt: time.Now()}
	require.NoError(t, s.CreateWorker(context.Background(), w))
	return w
}

func mustCreateTask(t *testing.T, s *store.Store, documentID uuid.UUID, taskType string) *model.Task {
	t.Helper()
	task := NewTask(documentID, taskType, nil, 5)
	require.NoError(t, s.Transaction(context.Background(), func(tx *sqlx.Tx) error {
		return store.CreateTask(context.Background(), tx, task)
	}))
	return task
}

func TestClaimUnassignedTaskSingleWinner(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	w1 := mustCreateWorker(t, s)
	w2 := mustCreateWorker(t, s)
	mustCreateTask(t, s, doc.ID, string(model.TaskReencode))

	claimed1, err := d.ClaimUnassignedTask(ctx, w1.ID, []string{string(model.TaskReencode)})
	require.NoError(t, err)
	require.NotNil(t, claimed1)
	assert.Equal(t, model.TaskStateAssigned, claimed1.State)
	assert.Equal(t, 4, claimed1.RemainingAttempts)

	claimed2, err := d.ClaimUnassignedTask(ctx, w2.ID, []string{string(model.TaskReencode)})
	require.NoError(t, err)
	assert.Nil(t, claimed2)
}

func TestClaimUnassignedTaskRespectsDependencies(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	worker := mustCreateWorker(t, s)

	reencode := mustCreateTask(t, s, doc.ID, string(model.TaskReencode))
	transcribe := mustCreateTask(t, s, doc.ID, string(model.TaskTranscribe))
	require.NoError(t, s.Transaction(ctx, func(tx *sqlx.Tx) error {
		return store.CreateTaskDependency(ctx, tx, model.TaskDependency{DependentID: transcribe.ID, DependantOnID: reencode.ID})
	}))

	claimed, err := d.ClaimUnassignedTask(ctx, worker.ID, []string{string(model.TaskTranscribe)})
	require.NoError(t, err)
	assert.Nil(t, claimed, "blocked task must not be claimable before its dependency completes")

	require.NoError(t, d.MarkCompleted(ctx, worker.ID, mustClaim(t, d, worker.ID, reencode).ID, nil))

	claimed, err = d.ClaimUnassignedTask(ctx, worker.ID, []string{string(model.TaskTranscribe)})
	require.NoError(t, err)
	require.NotNil(t, claimed, "task must be claimable once its dependency is COMPLETED")
	assert.Equal(t, transcribe.ID, claimed.ID)
}

func mustClaim(t *testing.T, d *Dispatcher, workerID uuid.UUID, task *model.Task) *model.Task {
	t.Helper()
	claimed, err := d.ClaimUnassignedTask(context.Background(), workerID, []string{task.TaskType})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, task.ID, claimed.ID)
	return claimed
}

func TestKeepaliveRequiresHolder(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	holder := mustCreateWorker(t, s)
	intruder := mustCreateWorker(t, s)
	task := mustCreateTask(t, s, doc.ID, string(model.TaskReencode))

	claimed := mustClaim(t, d, holder.ID, task)

	progress := 0.5
	assert.NoError(t, d.Keepalive(ctx, holder.ID, claimed.ID, &progress))
	assert.ErrorIs(t, d.Keepalive(ctx, intruder.ID, claimed.ID, &progress), ErrNotHolder)
}

func TestKeepaliveWithNoAttemptIsProtocolViolation(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	worker := mustCreateWorker(t, s)
	task := mustCreateTask(t, s, doc.ID, string(model.TaskReencode))

	assert.ErrorIs(t, d.Keepalive(ctx, worker.ID, task.ID, nil), ErrNoAttempt)
}

func TestMarkFailedRequeuesUntilAttemptsExhausted(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 2, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	worker := mustCreateWorker(t, s)
	task := NewTask(doc.ID, string(model.TaskReencode), nil, 2)
	require.NoError(t, s.Transaction(ctx, func(tx *sqlx.Tx) error { return store.CreateTask(ctx, tx, task) }))

	claimed := mustClaim(t, d, worker.ID, task)
	require.NoError(t, d.MarkFailed(ctx, worker.ID, claimed.ID, json.RawMessage(`{"error":"boom"}`)))

	reloaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStateNew, reloaded.State)
	assert.Equal(t, 1, reloaded.RemainingAttempts)
	assert.Nil(t, reloaded.CurrentAttemptID)

	claimed2 := mustClaim(t, d, worker.ID, reloaded)
	require.NoError(t, d.MarkFailed(ctx, worker.ID, claimed2.ID, json.RawMessage(`{"error":"boom again"}`)))

	final, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStateFailed, final.State)
	assert.Equal(t, 0, final.RemainingAttempts)
}

func TestSweepTimedOutAttemptsReclaims(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, 20*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	worker := mustCreateWorker(t, s)
	task := mustCreateTask(t, s, doc.ID, string(model.TaskReencode))

	mustClaim(t, d, worker.ID, task)
	time.Sleep(50 * time.Millisecond)

	n, err := d.SweepTimedOutAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStateNew, reloaded.State)
	assert.Nil(t, reloaded.CurrentAttemptID)

	claimed, err := d.ClaimUnassignedTask(ctx, worker.ID, []string{string(model.TaskReencode)})
	require.NoError(t, err)
	require.NotNil(t, claimed, "a reclaimed task must be claimable again")
}

func TestMarkCompletedDeliversExportResult(t *testing.T) {
	s := newTestStore(t)
	d := NewDispatcher(s, 5, time.Minute, zerolog.Nop())
	ctx := context.Background()

	doc := mustCreateUserAndDocument(t, s)
	worker := mustCreateWorker(t, s)
	task := mustCreateTask(t, s, doc.ID, string(model.TaskExport))
	claimed := mustClaim(t, d, worker.ID, task)

	awaitErr := make(chan error, 1)
	go func() {
		_, err := d.Exports().Await(ctx, claimed.ID)
		awaitErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.MarkCompleted(ctx, worker.ID, claimed.ID, json.RawMessage(`{"url":"https://example.com/export.json"}`)))

	select {
	case err := <-awaitErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("export await never returned")
	}
}
