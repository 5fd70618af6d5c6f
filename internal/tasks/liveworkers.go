package tasks

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LiveWorker is the last-observed-contact snapshot for one worker,
// refreshed on every authenticated worker request.
type LiveWorker struct {
	WorkerID uuid.UUID
	Name     string
	LastSeen time.Time
}

// LiveWorkers tracks which workers have recently made HTTP contact. It is
// advisory only: the authoritative "does worker X hold attempt Y" check
// always reads current_attempt.assigned_worker_id from Postgres, never
// this cache. The HTTP middleware touches an entry on each worker request
// and forgets it when the worker is deactivated.
type LiveWorkers struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*LiveWorker
}

// NewLiveWorkers creates an empty tracker.
func NewLiveWorkers() *LiveWorkers {
	return &LiveWorkers{workers: make(map[uuid.UUID]*LiveWorker)}
}

// Touch records that workerID made contact just now.
func (r *LiveWorkers) Touch(workerID uuid.UUID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[workerID] = &LiveWorker{WorkerID: workerID, Name: name, LastSeen: time.Now()}
}

// Forget removes a worker from the tracker, e.g. on deactivation.
func (r *LiveWorkers) Forget(workerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}

// Get returns the last-seen snapshot for a worker, if any.
func (r *LiveWorkers) Get(workerID uuid.UUID) (*LiveWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	return w, ok
}

// Live returns workers seen within the past within duration, sorted by
// most recently seen.
func (r *LiveWorkers) Live(within time.Duration) []*LiveWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-within)
	live := make([]*LiveWorker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.LastSeen.After(cutoff) {
			live = append(live, w)
		}
	}
	for i := 1; i < len(live); i++ {
		for j := i; j > 0 && live[j].LastSeen.After(live[j-1].LastSeen); j-- {
			live[j], live[j-1] = live[j-1], live[j]
		}
	}
	return live
}

// Count returns the number of workers ever tracked (including stale ones).
func (r *LiveWorkers) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
