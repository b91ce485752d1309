package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eigenlvr/auction-engine/internal/metrics"
	"github.com/eigenlvr/auction-engine/internal/model"
)

// Settle commits the settlement record for a task whose consensus is
// reached. Callable once; repeat calls fail with ErrAlreadySettled and
// leave the record untouched.
//
// Settlement is ledger truth only — the payment sink moves funds, and a
// failed transfer is attached to the record as retryable rather than
// rolling anything back.
func (e *Engine) Settle(ctx context.Context, taskID uint64) (*model.SettlementRecord, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()

	if entry.settlement != nil {
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrAlreadySettled, taskID)
	}
	if entry.task.State != model.TaskConsensusReached {
		state := entry.task.State
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: task %d %s -> %s (current %s)",
			ErrIllegalTransition, taskID, model.TaskConsensusReached, model.TaskSettled, state)
	}

	now := time.Now().UTC()
	rec, err := e.distributor.BuildRecord(taskID, entry.consensus.WinningBid, now)
	if err != nil {
		entry.mu.Unlock()
		return nil, err
	}

	entry.settlement = rec
	entry.task.State = model.TaskSettled
	entry.task.SettledAt = now
	task := entry.task
	winner := entry.consensus.Winner
	entry.mu.Unlock()

	// Money movement happens outside the task lock. Failures are recorded
	// for the payment collaborator to retry; the ledger decision is final.
	failed := e.distributor.Distribute(ctx, rec, task.SubjectID)
	if len(failed) > 0 {
		entry.mu.Lock()
		rec.FailedTransfers = failed
		entry.mu.Unlock()
		for _, share := range failed {
			metrics.TransferFailures.WithLabelValues(share).Inc()
		}
		slog.Warn("settlement transfers pending retry", "task_id", taskID, "shares", failed)
	}

	e.archiveWrite(ctx, "settlement", func() error { return e.archive.SaveSettlement(ctx, rec) })
	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{
		Type:       EventTaskSettled,
		TaskID:     taskID,
		SubjectID:  task.SubjectID,
		State:      model.TaskSettled,
		Winner:     winner,
		WinningBid: rec.TotalProceeds.String(),
	})
	metrics.SettlementsTotal.Inc()

	slog.Info("task settled",
		"task_id", taskID,
		"total_proceeds", rec.TotalProceeds.String(),
		"lp_share", rec.LPShare.String(),
		"operator_share", rec.OperatorShare.String(),
		"protocol_share", rec.ProtocolShare.String(),
		"gas_share", rec.GasShare.String(),
	)

	copy := *rec
	return &copy, nil
}

// RaiseChallenge records a dispute against a settled task within the
// challenge window and halts reward finality pending resolution.
func (e *Engine) RaiseChallenge(ctx context.Context, taskID uint64, challenger string) (*model.Challenge, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()

	if entry.task.State == model.TaskDisputed {
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrAlreadyChallenged, taskID)
	}
	if entry.task.State != model.TaskSettled {
		state := entry.task.State
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: task %d is %s", ErrNotSettled, taskID, state)
	}

	now := time.Now().UTC()
	if now.After(entry.task.SettledAt.Add(e.challengeWindow)) {
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: task %d", ErrWindowClosed, taskID)
	}

	ch := &model.Challenge{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Challenger: challenger,
		RaisedAt:   now,
	}
	entry.challenge = ch
	entry.task.State = model.TaskDisputed
	task := entry.task
	entry.mu.Unlock()

	e.archiveWrite(ctx, "challenge", func() error { return e.archive.SaveChallenge(ctx, ch) })
	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{Type: EventTaskDisputed, TaskID: taskID, SubjectID: task.SubjectID, State: model.TaskDisputed})
	metrics.ChallengesTotal.Inc()

	slog.Info("challenge raised", "task_id", taskID, "challenger", challenger)

	copy := *ch
	return &copy, nil
}

// ResolveChallenge is the hook the external dispute-resolution collaborator
// calls once a dispute concludes. It marks the challenge resolved and
// finalizes the task; slashing or reversal is that collaborator's problem.
func (e *Engine) ResolveChallenge(ctx context.Context, taskID uint64) error {
	entry, err := e.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()

	if entry.challenge == nil {
		entry.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoChallenge, taskID)
	}
	if err := transitionLocked(entry, model.TaskDisputed, model.TaskFinalized); err != nil {
		entry.mu.Unlock()
		return err
	}
	entry.challenge.Resolved = true
	task := entry.task
	entry.mu.Unlock()

	e.archiveWrite(ctx, "challenge", func() error { return e.archive.MarkChallengeResolved(ctx, taskID) })
	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{Type: EventTaskFinalized, TaskID: taskID, SubjectID: task.SubjectID, State: model.TaskFinalized})

	slog.Info("challenge resolved", "task_id", taskID)
	return nil
}

// CloseWindow finalizes a settled task once its challenge window elapsed
// with no challenge. Normally driven by the sweeper, also callable
// directly by an external scheduler.
func (e *Engine) CloseWindow(ctx context.Context, taskID uint64) error {
	entry, err := e.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()

	if entry.task.State != model.TaskSettled {
		state := entry.task.State
		entry.mu.Unlock()
		return fmt.Errorf("%w: task %d is %s", ErrNotSettled, taskID, state)
	}
	now := time.Now().UTC()
	if !now.After(entry.task.SettledAt.Add(e.challengeWindow)) {
		entry.mu.Unlock()
		return fmt.Errorf("%w: task %d", ErrWindowOpen, taskID)
	}
	entry.task.State = model.TaskFinalized
	task := entry.task
	entry.mu.Unlock()

	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{Type: EventTaskFinalized, TaskID: taskID, SubjectID: task.SubjectID, State: model.TaskFinalized})

	slog.Info("challenge window closed", "task_id", taskID)
	return nil
}

// AbortTask moves a task directly to Expired. This is the only
// cancellation path, usable only before consensus is reached, and final.
func (e *Engine) AbortTask(ctx context.Context, taskID uint64) error {
	entry, err := e.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if err := transitionLocked(entry, model.TaskCollecting, model.TaskExpired); err != nil {
		entry.mu.Unlock()
		return err
	}
	task := entry.task
	entry.mu.Unlock()

	e.expireSideEffects(ctx, task, "aborted")
	return nil
}

// Sweep performs one pass over all tasks: expires Collecting tasks past
// their deadline (evaluating consensus one final time first), finalizes
// Settled tasks whose challenge window elapsed, and evicts terminal tasks
// older than the retention period from the arena (the archive keeps their
// history). Each task is locked individually — the sweep never serializes
// live submissions on unrelated tasks.
func (e *Engine) Sweep(ctx context.Context) {
	e.mu.RLock()
	entries := make([]*taskEntry, 0, len(e.tasks))
	for _, entry := range e.tasks {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	now := time.Now().UTC()
	var evict []uint64

	for _, entry := range entries {
		entry.mu.Lock()

		switch entry.task.State {
		case model.TaskCollecting:
			if !now.After(entry.task.ResponseDeadline) {
				entry.mu.Unlock()
				continue
			}
			// Final evaluation at the deadline, then expire on failure.
			if result := e.evaluateLocked(entry, now); result != nil {
				entry.mu.Unlock()
				e.finishConsensus(ctx, entry, result)
				continue
			}
			entry.task.State = model.TaskExpired
			task := entry.task
			entry.mu.Unlock()
			e.expireSideEffects(ctx, task, "deadline passed without quorum")

		case model.TaskSettled:
			if !now.After(entry.task.SettledAt.Add(e.challengeWindow)) {
				entry.mu.Unlock()
				continue
			}
			entry.task.State = model.TaskFinalized
			task := entry.task
			entry.mu.Unlock()

			e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
			e.publish(Event{Type: EventTaskFinalized, TaskID: task.TaskID, SubjectID: task.SubjectID, State: model.TaskFinalized})
			slog.Info("challenge window closed", "task_id", task.TaskID)

		case model.TaskExpired:
			if e.retention > 0 && now.After(entry.task.ResponseDeadline.Add(e.retention)) {
				evict = append(evict, entry.task.TaskID)
			}
			entry.mu.Unlock()

		case model.TaskFinalized:
			if e.retention > 0 && now.After(entry.task.SettledAt.Add(e.retention)) {
				evict = append(evict, entry.task.TaskID)
			}
			entry.mu.Unlock()

		default:
			entry.mu.Unlock()
		}
	}

	if len(evict) > 0 {
		e.mu.Lock()
		for _, id := range evict {
			delete(e.tasks, id)
		}
		e.mu.Unlock()
		for _, id := range evict {
			e.registry.DropSnapshot(id)
		}
		slog.Info("terminal tasks evicted", "count", len(evict))
	}
}

func (e *Engine) expireSideEffects(ctx context.Context, task model.AuctionTask, reason string) {
	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{Type: EventTaskExpired, TaskID: task.TaskID, SubjectID: task.SubjectID, State: model.TaskExpired})
	metrics.TasksExpired.Inc()
	metrics.ActiveTasks.Dec()

	slog.Info("task expired", "task_id", task.TaskID, "reason", reason)
}

// Run drives the periodic sweep until the context is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}
