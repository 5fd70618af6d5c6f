// Package sync implements the per-document publish/subscribe hub that
// streams a document's change log to connected editors and workers over
// websocket, and fans out live writes as they are persisted. The registry
// holds one subscriber set per document behind a single mutex, and each
// connection splits into a reader/forwarder goroutine pair whose
// cancellation propagates to its sibling via context.
package sync

import "encoding/binary"

// Frame type tags for the websocket wire protocol.
const (
	frameChange          byte = 1
	frameBacklogComplete byte = 2
)

// encodeChange wraps one opaque change payload as a CHANGE frame: a 1-byte
// tag, a 4-byte big-endian length, then the payload itself. Multiple frames
// may be concatenated into a single websocket message; the length prefix
// lets a reader recover framing regardless of how the transport chunks it.
func encodeChange(payload []byte) []byte {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = frameChange
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf
}

// encodeBacklogComplete is the fixed one-byte BACKLOG_COMPLETE frame.
func encodeBacklogComplete() []byte {
	return []byte{frameBacklogComplete}
}
