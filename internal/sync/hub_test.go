package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	h := NewHub(4)
	docID := uuid.New()

	subA, chA := h.Subscribe(docID)
	_, chB := h.Subscribe(docID)

	assert.Equal(t, 2, h.SubscriberCount(docID))

	h.Publish(docID, subA, []byte("payload"))

	select {
	case msg := <-chB:
		assert.Equal(t, encodeChange([]byte("payload")), msg)
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received the broadcast")
	}

	select {
	case <-chA:
		t.Fatal("originator must not receive its own broadcast")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(4)
	docID := uuid.New()

	subID, ch := h.Subscribe(docID)
	h.Unsubscribe(docID, subID)

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
	assert.Equal(t, 0, h.SubscriberCount(docID))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(4)
	docID := uuid.New()
	subID, _ := h.Subscribe(docID)

	assert.NotPanics(t, func() {
		h.Unsubscribe(docID, subID)
		h.Unsubscribe(docID, subID)
		h.Unsubscribe(docID, uuid.New())
	})
}

func TestPublishDropsSlowSubscriber(t *testing.T) {
	h := NewHub(1)
	docID := uuid.New()
	_, ch := h.Subscribe(docID)

	h.Publish(docID, uuid.Nil, []byte("one"))
	h.Publish(docID, uuid.Nil, []byte("two")) // queue is full, this drops the subscriber

	require.Equal(t, 0, h.SubscriberCount(docID))

	<-ch // the one message that did queue
	_, ok := <-ch
	assert.False(t, ok, "dropped subscriber's channel must be closed")
}

func TestPublishIsScopedToDocument(t *testing.T) {
	h := NewHub(4)
	docA := uuid.New()
	docB := uuid.New()

	_, chA := h.Subscribe(docA)
	_, chB := h.Subscribe(docB)

	h.Publish(docA, uuid.Nil, []byte("for a"))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("subscriber of document A never received its broadcast")
	}
	select {
	case <-chB:
		t.Fatal("subscriber of document B must not see document A's broadcast")
	case <-time.After(20 * time.Millisecond):
	}
}
