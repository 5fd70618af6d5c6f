package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/transcribee/coordinator/internal/model"
	"github.com/transcribee/coordinator/internal/store"
)

// SweepTimedOutAttempts reclaims every task whose current attempt's
// last_keepalive is older than the dispatcher's worker timeout, invoking
// the same bookkeeping MarkFailed uses. Each task is reclaimed in its own
// transaction so one stuck row cannot block the rest of the sweep.
func (d *Dispatcher) SweepTimedOutAttempts(ctx context.Context) (int, error) {
	deadline := time.Now().Add(-d.workerTimeout)

	var taskIDs []uuid.UUID
	err := d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		ids, err := store.TimedOutTaskIDsTx(ctx, tx, deadline)
		if err != nil {
			return err
		}
		taskIDs = ids
		return nil
	})
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, taskID := range taskIDs {
		if err := d.reclaimTimedOutTask(ctx, taskID); err != nil {
			d.log.Error().Err(err).Str("task_id", taskID.String()).Msg("failed to reclaim timed out task")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// reclaimTimedOutTask re-locates and reclaims a single task inside its own
// transaction, mirroring MarkFailed but with no holder check (the sweeper
// is not acting on behalf of any worker) and no extra_data.
func (d *Dispatcher) reclaimTimedOutTask(ctx context.Context, taskID uuid.UUID) error {
	var finalState model.TaskState
	err := d.store.Transaction(ctx, func(tx *sqlx.Tx) error {
		task, err := store.GetTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.CurrentAttemptID == nil {
			return nil
		}
		if err := store.EndTaskAttempt(ctx, tx, *task.CurrentAttemptID, nil); err != nil {
			return err
		}
		finalState = model.TaskStateNew
		if task.RemainingAttempts <= 0 {
			finalState = model.TaskStateFailed
		}
		return store.FinishTask(ctx, tx, task.ID, finalState, task.RemainingAttempts)
	})
	if err != nil {
		return err
	}
	switch finalState {
	case model.TaskStateNew:
		d.log.Info().Str("task_id", taskID.String()).Msg("reclaimed timed out task")
	case model.TaskStateFailed:
		d.exports.Deliver(taskID, ExportResult{Error: json.RawMessage(`"export task timed out"`)})
	}
	return nil
}

// RunSweepers starts the timeout and expired-token sweepers as independent
// background tickers, each on its own goroutine. Both stop when ctx is
// cancelled.
func RunSweepers(ctx context.Context, d *Dispatcher, s *store.Store, log zerolog.Logger) {
	timeoutPeriod := d.workerTimeout
	if timeoutPeriod > 30*time.Second {
		timeoutPeriod = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(timeoutPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := d.SweepTimedOutAttempts(ctx)
				if err != nil {
					log.Error().Err(err).Msg("timeout sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int("count", n).Msg("timeout sweep reclaimed tasks")
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.SweepExpiredUserTokens(ctx, time.Now())
				if err != nil {
					log.Error().Err(err).Msg("expired token sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int64("count", n).Msg("expired token sweep deleted tokens")
				}
			}
		}
	}()
}
