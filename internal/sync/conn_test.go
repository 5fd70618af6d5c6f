package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// newTestStore connects to DATABASE_URL, skipping the test when unset, the
// same guard internal/tasks and internal/store use for anything that
// touches Postgres.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping sync integration test")
	}
	s, err := store.Open(dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDocument(t *testing.T, s *store.Store) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	u := &model.User{ID: uuid.New(), Username: "sync-user-" + uuid.New().String(), PasswordHash: "h", PasswordSalt: []byte("s"), CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))
	d := &model.Document{ID: uuid.New(), UserID: u.ID, Name: "doc", CreatedAt: time.Now(), ChangedAt: time.Now()}
	require.NoError(t, s.CreateDocument(ctx, d))
	return d.ID
}

// serveOneConn spins up an httptest server upgrading every request to a
// websocket and handing it to a Conn at the given level, returning a
// client-side *websocket.Conn dialed against it.
func serveOneConn(t *testing.T, hub *Hub, s *store.Store, documentID uuid.UUID, level authz.Level) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conn := NewConn(hub, s, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go func() { _ = conn.Serve(context.Background(), ws, documentID, level) }()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnSendsBacklogThenBacklogComplete(t *testing.T) {
	s := newTestStore(t)
	docID := mustDocument(t, s)
	require.NoError(t, func() error {
		_, err := s.AppendDocumentUpdate(context.Background(), docID, []byte("change-1"))
		return err
	}())

	hub := NewHub(DefaultQueueSize)
	client := serveOneConn(t, hub, s, docID, authz.LevelReadOnly)

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(1), msg[0], "first frame must be CHANGE")

	_, msg, err = client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{2}, msg, "second frame must be BACKLOG_COMPLETE")
}

func TestConnClosesReadOnlyWriterWithPolicyViolation(t *testing.T) {
	s := newTestStore(t)
	docID := mustDocument(t, s)

	hub := NewHub(DefaultQueueSize)
	client := serveOneConn(t, hub, s, docID, authz.LevelReadOnly)

	_, _, err := client.ReadMessage() // BACKLOG_COMPLETE for an empty document
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("not allowed")))

	_, _, err = client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestConnBroadcastsWritesToOtherSubscribers(t *testing.T) {
	s := newTestStore(t)
	docID := mustDocument(t, s)

	hub := NewHub(DefaultQueueSize)
	writer := serveOneConn(t, hub, s, docID, authz.LevelReadWrite)
	_, _, err := writer.ReadMessage() // backlog complete
	require.NoError(t, err)

	reader := serveOneConn(t, hub, s, docID, authz.LevelReadOnly)
	_, _, err = reader.ReadMessage() // backlog complete
	require.NoError(t, err)

	require.NoError(t, writer.WriteMessage(websocket.BinaryMessage, []byte("edit-1")))

	_, msg, err := reader.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(1), msg[0])
	require.Equal(t, []byte("edit-1"), msg[5:])
}
