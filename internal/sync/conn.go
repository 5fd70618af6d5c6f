package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/store"
)

// ErrSubscriberDropped is returned when the hub drops this connection's
// subscriber because its outgoing queue overflowed.
var ErrSubscriberDropped = errors.New("subscriber dropped for a full outgoing queue")

// errPolicyViolation is returned after closing a socket for a write from a
// peer below READ_WRITE.
var errPolicyViolation = errors.New("write from a peer below read-write level")

// Conn drives one websocket connection through the backlog-then-live
// lifecycle: it first drains the document's persisted change history, then
// forwards live writes as they arrive, with a reader and a forwarder
// goroutine sharing one document subscription and cancelling together.
type Conn struct {
	hub   *Hub
	store *store.Store
	log   zerolog.Logger
}

// NewConn creates a Conn serving connections against hub and s.
func NewConn(hub *Hub, s *store.Store, log zerolog.Logger) *Conn {
	return &Conn{hub: hub, store: s, log: log.With().Str("component", "sync").Logger()}
}

// Serve runs one connection to completion: backlog replay followed by the
// concurrent reader/forwarder live phase, until ctx is cancelled or either
// peer errors. level gates whether the client's writes are accepted; a
// write from a peer below READ_WRITE closes the socket with policy
// violation code 1008.
func (c *Conn) Serve(ctx context.Context, ws *websocket.Conn, documentID uuid.UUID, level authz.Level) error {
	subscriberID, recvCh := c.hub.Subscribe(documentID)
	defer c.hub.Unsubscribe(documentID, subscriberID)

	if err := c.replayBacklog(ctx, ws, documentID); err != nil {
		return fmt.Errorf("replay backlog: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.forwardBroadcasts(connCtx, ws, recvCh) }()
	go func() { errCh <- c.readClientMessages(connCtx, ws, documentID, subscriberID, level) }()

	err := <-errCh
	cancel()
	<-errCh
	return err
}

// replayBacklog iterates every DocumentUpdate recorded for documentID in
// insertion order, emitting each as a CHANGE frame, then a single
// BACKLOG_COMPLETE frame once the client is caught up to the live stream.
func (c *Conn) replayBacklog(ctx context.Context, ws *websocket.Conn, documentID uuid.UUID) error {
	updates, err := c.store.ListDocumentUpdatesSince(ctx, documentID, 0)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := ws.WriteMessage(websocket.BinaryMessage, encodeChange(u.ChangeBytes)); err != nil {
			return err
		}
	}
	return ws.WriteMessage(websocket.BinaryMessage, encodeBacklogComplete())
}

// forwardBroadcasts relays hub broadcasts to the socket until ctx is
// cancelled, the socket write fails, or the hub drops this subscriber for
// a full queue (recvCh closes).
func (c *Conn) forwardBroadcasts(ctx context.Context, ws *websocket.Conn, recvCh <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-recvCh:
			if !ok {
				return ErrSubscriberDropped
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return err
			}
		}
	}
}

// readClientMessages reads raw change bytes from the socket, persisting
// each as a DocumentUpdate and broadcasting it to every other subscriber.
// A write from a peer whose level is below READ_WRITE closes the socket
// with policy-violation code 1008 and returns errPolicyViolation.
func (c *Conn) readClientMessages(ctx context.Context, ws *websocket.Conn, documentID, subscriberID uuid.UUID, level authz.Level) error {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		if !level.AtLeast(authz.LevelReadWrite) {
			c.closePolicyViolation(ws)
			return errPolicyViolation
		}

		if _, err := c.store.AppendDocumentUpdate(ctx, documentID, payload); err != nil {
			return err
		}
		if err := c.store.TouchDocument(ctx, documentID); err != nil {
			return err
		}

		c.hub.Publish(documentID, subscriberID, payload)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Conn) closePolicyViolation(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "write requires read-write access")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
