package sync

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the default bound on a subscriber's outgoing queue.
const DefaultQueueSize = 256

// subscriber is one connected websocket peer's mailbox.
type subscriber struct {
	id uuid.UUID
	ch chan []byte
}

// Hub fans out document changes to every subscriber of that document. It is
// process-local: two coordinator instances do not share subscriptions.
// Subscription add/remove and broadcast are serialized by a single mutex
// over a map of per-document subscriber sets.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[uuid.UUID]*subscriber
	queueSize   int
}

// NewHub creates an empty Hub whose subscriber queues hold queueSize
// pending messages before the subscriber is considered too slow.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{subscribers: make(map[uuid.UUID]map[uuid.UUID]*subscriber), queueSize: queueSize}
}

// Subscribe registers a new subscriber for documentID and returns its id
// and receive channel. Callers must eventually call Unsubscribe.
func (h *Hub) Subscribe(documentID uuid.UUID) (uuid.UUID, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{id: uuid.New(), ch: make(chan []byte, h.queueSize)}
	if h.subscribers[documentID] == nil {
		h.subscribers[documentID] = make(map[uuid.UUID]*subscriber)
	}
	h.subscribers[documentID][sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber, closing its channel. Safe to call more
// than once or with an id that no longer exists.
func (h *Hub) Unsubscribe(documentID, subscriberID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[documentID]
	if !ok {
		return
	}
	if sub, ok := subs[subscriberID]; ok {
		delete(subs, subscriberID)
		close(sub.ch)
	}
	if len(subs) == 0 {
		delete(h.subscribers, documentID)
	}
}

// Publish broadcasts a CHANGE frame wrapping payload to every subscriber of
// documentID except originatorID, so the connection that produced the
// change does not receive its own echo back. Delivery is non-blocking per
// subscriber: a subscriber whose queue is full is dropped rather than
// stalling the broadcaster.
func (h *Hub) Publish(documentID, originatorID uuid.UUID, payload []byte) {
	frame := encodeChange(payload)

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[documentID]
	for id, sub := range subs {
		if id == originatorID {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			delete(subs, id)
			close(sub.ch)
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, documentID)
	}
}

// SubscriberCount reports how many subscribers are currently attached to
// documentID.
func (h *Hub) SubscriberCount(documentID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[documentID])
}
