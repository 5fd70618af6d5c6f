package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrExportTimedOut is returned by Await when no delivery arrives within the
// registry's TTL.
var ErrExportTimedOut = errors.New("export timed out")

// ExportResult is the outcome of an EXPORT task. Error is non-empty when
// the task ended FAILED; otherwise Result carries the worker's extra_data,
// which may be empty.
type ExportResult struct {
	Result json.RawMessage
	Error  json.RawMessage
}

// exportWaiter is one registered, single-use result channel.
type exportWaiter struct {
	ch      chan ExportResult
	expires time.Time
}

// ExportRegistry hands EXPORT task creators a single-use, at-most-once,
// TTL-bounded channel keyed by task id, so an HTTP handler can block for a
// worker's result without the caller and the dispatcher needing a shared
// notion of "this request" anywhere else.
type ExportRegistry struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]*exportWaiter
	ttl     time.Duration
}

// NewExportRegistry creates a registry whose waiters expire after ttl.
func NewExportRegistry(ttl time.Duration) *ExportRegistry {
	return &ExportRegistry{waiters: make(map[uuid.UUID]*exportWaiter), ttl: ttl}
}

// Await blocks until the worker posts a result for taskID, ctx is
// cancelled, or the registry's TTL elapses, whichever happens first. Only
// one caller may successfully Await a given taskID; a second concurrent
// call shares the first's waiter, so at most one of them receives the
// delivery.
func (r *ExportRegistry) Await(ctx context.Context, taskID uuid.UUID) (ExportResult, error) {
	r.mu.Lock()
	w, ok := r.waiters[taskID]
	if !ok {
		w = &exportWaiter{ch: make(chan ExportResult, 1), expires: time.Now().Add(r.ttl)}
		r.waiters[taskID] = w
	}
	r.mu.Unlock()

	timer := time.NewTimer(time.Until(w.expires))
	defer timer.Stop()

	defer func() {
		r.mu.Lock()
		delete(r.waiters, taskID)
		r.mu.Unlock()
	}()

	select {
	case res := <-w.ch:
		return res, nil
	case <-timer.C:
		return ExportResult{}, ErrExportTimedOut
	case <-ctx.Done():
		return ExportResult{}, ctx.Err()
	}
}

// Deliver hands res to taskID's waiter, if one is currently registered. A
// late delivery (no waiter, or one that already timed out) is silently
// dropped — at most one delivery is ever consumed per task.
func (r *ExportRegistry) Deliver(taskID uuid.UUID, res ExportResult) {
	r.mu.Lock()
	w, ok := r.waiters[taskID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.ch <- res:
	default:
	}
}
