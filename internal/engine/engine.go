// Package engine owns the auction task lifecycle: task creation with
// weight snapshots, response collection, synchronous consensus
// re-evaluation, settlement, and the post-settlement challenge window.
//
// Tasks live in an arena keyed by a monotonically assigned id. Each task
// carries its own mutex, so submissions for unrelated auctions never
// serialize against each other; the arena lock is held only for map
// lookups and id assignment. No I/O happens under a task lock — archive
// writes and event publication run after the lock is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/consensus"
	"github.com/eigenlvr/auction-engine/internal/metrics"
	"github.com/eigenlvr/auction-engine/internal/model"
	"github.com/eigenlvr/auction-engine/internal/registry"
	"github.com/eigenlvr/auction-engine/internal/reward"
	"github.com/eigenlvr/auction-engine/internal/store"
)

var (
	// ErrInvalidThreshold is returned when the quorum threshold is outside
	// (0, 10000] basis points.
	ErrInvalidThreshold = errors.New("engine: quorum threshold must be in (0, 10000] basis points")

	// ErrInvalidDeadline is returned when the response deadline is not
	// strictly in the future.
	ErrInvalidDeadline = errors.New("engine: response deadline must be in the future")

	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("engine: task not found")

	// ErrTaskNotCollecting is returned when a response arrives for a task
	// that is no longer accepting responses.
	ErrTaskNotCollecting = errors.New("engine: task is not collecting responses")

	// ErrDeadlinePassed is returned for responses arriving after the
	// collection deadline.
	ErrDeadlinePassed = errors.New("engine: response deadline has passed")

	// ErrUnknownOperator is returned when the submitter was not an active
	// operator in the task's weight snapshot.
	ErrUnknownOperator = errors.New("engine: operator not eligible for this task")

	// ErrDuplicateResponse is returned when an operator submits twice for
	// the same task. The first response stands; votes cannot be changed.
	ErrDuplicateResponse = errors.New("engine: operator already responded to this task")

	// ErrIllegalTransition is returned for state transitions outside the
	// legal table.
	ErrIllegalTransition = errors.New("engine: illegal task state transition")

	// ErrAlreadySettled is returned when Settle is called again for a task
	// that already has a settlement record.
	ErrAlreadySettled = errors.New("engine: task already settled")

	// ErrNotSettled is returned when a challenge targets a task that is
	// not in the settled state.
	ErrNotSettled = errors.New("engine: task is not settled")

	// ErrWindowClosed is returned for challenges raised after the
	// challenge window elapsed.
	ErrWindowClosed = errors.New("engine: challenge window has closed")

	// ErrWindowOpen is returned when CloseWindow is called before the
	// challenge window elapsed.
	ErrWindowOpen = errors.New("engine: challenge window still open")

	// ErrAlreadyChallenged is returned when a task already has an open
	// challenge.
	ErrAlreadyChallenged = errors.New("engine: task already has an open challenge")

	// ErrNoConsensus is returned when reading a consensus result that does
	// not exist.
	ErrNoConsensus = errors.New("engine: no consensus result for task")

	// ErrNoSettlement is returned when reading a settlement that does not
	// exist.
	ErrNoSettlement = errors.New("engine: no settlement for task")

	// ErrNoChallenge is returned when reading or resolving a challenge
	// that does not exist.
	ErrNoChallenge = errors.New("engine: no challenge for task")
)

// legalTransitions is the one-directional lifecycle table. Disputed is
// reachable only from Settled, and only RaiseChallenge performs it.
var legalTransitions = map[model.TaskState][]model.TaskState{
	model.TaskCollecting:       {model.TaskConsensusReached, model.TaskExpired},
	model.TaskConsensusReached: {model.TaskSettled},
	model.TaskSettled:          {model.TaskDisputed, model.TaskFinalized},
	model.TaskDisputed:         {model.TaskFinalized},
}

func transitionLegal(from, to model.TaskState) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// taskEntry is one task's exclusive section: state, snapshot, responses,
// and derived records, guarded by its own mutex.
type taskEntry struct {
	mu         sync.Mutex
	task       model.AuctionTask
	snapshot   registry.Snapshot
	responses  []model.OperatorResponse // arrival order
	responded  map[string]int           // operatorID → index into responses
	consensus  *model.ConsensusResult
	settlement *model.SettlementRecord
	challenge  *model.Challenge
}

// Engine is the auction task consensus and settlement engine.
type Engine struct {
	registry    *registry.Registry
	resolver    *consensus.Resolver
	distributor *reward.Distributor
	archive     store.Store // nil disables archival
	events      EventSink   // nil disables event publication

	challengeWindow time.Duration
	retention       time.Duration // how long terminal tasks stay in the arena; 0 keeps them forever

	mu     sync.RWMutex
	tasks  map[uint64]*taskEntry
	nextID uint64
}

// New creates an engine. archive and events may be nil. Terminal tasks
// (expired, finalized) are evicted from the arena by the sweeper once they
// are older than retention; after that, history reads are served from the
// archive.
func New(
	reg *registry.Registry,
	resolver *consensus.Resolver,
	distributor *reward.Distributor,
	archive store.Store,
	events EventSink,
	challengeWindow time.Duration,
	retention time.Duration,
) *Engine {
	return &Engine{
		registry:        reg,
		resolver:        resolver,
		distributor:     distributor,
		archive:         archive,
		events:          events,
		challengeWindow: challengeWindow,
		retention:       retention,
		tasks:           make(map[uint64]*taskEntry),
	}
}

// Registry exposes the operator registry backing this engine.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// ChallengeWindow returns the configured post-settlement dispute period.
func (e *Engine) ChallengeWindow() time.Duration {
	return e.challengeWindow
}

// CreateTask opens a new auction task for the given subject. The eligible
// operator weights are snapshotted here; stake changes after this point do
// not affect this task's quorum arithmetic.
func (e *Engine) CreateTask(ctx context.Context, subjectID string, deadline time.Time, quorumBps int64) (*model.AuctionTask, error) {
	if quorumBps <= 0 || quorumBps > 10000 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, quorumBps)
	}
	now := time.Now().UTC()
	if !deadline.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeadline, deadline)
	}

	e.mu.Lock()
	e.nextID++
	taskID := e.nextID
	snap := e.registry.RecordSnapshot(taskID)
	entry := &taskEntry{
		task: model.AuctionTask{
			TaskID:           taskID,
			SubjectID:        subjectID,
			State:            model.TaskCollecting,
			QuorumBps:        quorumBps,
			EligibleWeight:   snap.Total,
			CreatedAt:        now,
			ResponseDeadline: deadline.UTC(),
		},
		snapshot:  snap,
		responded: make(map[string]int),
	}
	e.tasks[taskID] = entry
	e.mu.Unlock()

	task := entry.task
	e.archiveWrite(ctx, "task", func() error { return e.archive.SaveTask(ctx, &task) })
	e.publish(Event{Type: EventTaskCreated, TaskID: taskID, SubjectID: subjectID, State: model.TaskCollecting})
	metrics.TasksCreated.Inc()
	metrics.ActiveTasks.Inc()

	slog.Info("auction task created",
		"task_id", taskID,
		"subject", subjectID,
		"quorum_bps", quorumBps,
		"eligible_weight", snap.Total,
		"deadline", task.ResponseDeadline,
	)

	copy := task
	return &copy, nil
}

// Submit records one operator's response and re-evaluates consensus. If
// the response completes a quorum, the task moves to ConsensusReached
// immediately — most auctions settle well before the deadline.
func (e *Engine) Submit(ctx context.Context, taskID uint64, operatorID, winner string, winningBid decimal.Decimal) (*model.OperatorResponse, error) {
	start := time.Now()
	defer func() { metrics.SubmitLatency.Observe(time.Since(start).Seconds()) }()

	if err := consensus.ValidateBid(winningBid); err != nil {
		metrics.ResponsesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()

	if entry.task.State != model.TaskCollecting {
		entry.mu.Unlock()
		metrics.ResponsesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: task %d is %s", ErrTaskNotCollecting, taskID, entry.task.State)
	}

	now := time.Now().UTC()
	if now.After(entry.task.ResponseDeadline) {
		entry.mu.Unlock()
		metrics.ResponsesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: task %d", ErrDeadlinePassed, taskID)
	}

	if _, eligible := entry.snapshot.Weights[operatorID]; !eligible {
		entry.mu.Unlock()
		metrics.ResponsesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s on task %d", ErrUnknownOperator, operatorID, taskID)
	}

	if idx, dup := entry.responded[operatorID]; dup {
		stored := entry.responses[idx]
		entry.mu.Unlock()
		metrics.ResponsesTotal.WithLabelValues("duplicate").Inc()
		return &stored, fmt.Errorf("%w: %s on task %d", ErrDuplicateResponse, operatorID, taskID)
	}

	resp := model.OperatorResponse{
		TaskID:      taskID,
		OperatorID:  operatorID,
		Winner:      winner,
		WinningBid:  winningBid.Truncate(0),
		SubmittedAt: now,
	}
	entry.responded[operatorID] = len(entry.responses)
	entry.responses = append(entry.responses, resp)

	result := e.evaluateLocked(entry, now)

	subject := entry.task.SubjectID
	taskState := entry.task.State
	entry.mu.Unlock()

	e.archiveWrite(ctx, "response", func() error { return e.archive.SaveResponse(ctx, &resp) })
	e.publish(Event{
		Type:      EventResponseRecorded,
		TaskID:    taskID,
		SubjectID: subject,
		State:     taskState,
		Operator:  operatorID,
		Winner:    winner,
	})
	metrics.ResponsesTotal.WithLabelValues("accepted").Inc()

	slog.Info("response recorded",
		"task_id", taskID,
		"operator", operatorID,
		"winner", winner,
		"winning_bid", resp.WinningBid.String(),
	)

	if result != nil {
		e.finishConsensus(ctx, entry, result)
	}

	copy := resp
	return &copy, nil
}

// evaluateLocked runs the resolver over the accumulated responses. Caller
// holds the entry lock. Returns a new ConsensusResult the first time the
// quorum is met, nil otherwise. A result, once produced, is never replaced.
func (e *Engine) evaluateLocked(entry *taskEntry, now time.Time) *model.ConsensusResult {
	if entry.consensus != nil {
		return nil
	}

	outcome, ok := e.resolver.Resolve(entry.responses, entry.snapshot, entry.task.QuorumBps)
	if !ok {
		return nil
	}

	result := &model.ConsensusResult{
		TaskID:                   entry.task.TaskID,
		Winner:                   outcome.Winner,
		WinningBid:               outcome.WinningBid,
		AgreeingWeight:           outcome.AgreeingWeight,
		TotalParticipatingWeight: outcome.TotalParticipatingWeight,
		TotalEligibleWeight:      outcome.TotalEligibleWeight,
		Participants:             outcome.Participants,
		ReachedAt:                now,
	}
	entry.consensus = result
	entry.task.State = model.TaskConsensusReached
	return result
}

// finishConsensus handles the post-lock side effects of a freshly produced
// consensus result.
func (e *Engine) finishConsensus(ctx context.Context, entry *taskEntry, result *model.ConsensusResult) {
	entry.mu.Lock()
	task := entry.task
	entry.mu.Unlock()

	e.archiveWrite(ctx, "consensus result", func() error { return e.archive.SaveConsensusResult(ctx, result) })
	e.archiveWrite(ctx, "task state", func() error { return e.archive.UpdateTask(ctx, &task) })
	e.publish(Event{
		Type:       EventConsensusReached,
		TaskID:     task.TaskID,
		SubjectID:  task.SubjectID,
		State:      task.State,
		Winner:     result.Winner,
		WinningBid: result.WinningBid.String(),
	})
	metrics.ConsensusReached.Inc()
	metrics.ActiveTasks.Dec()

	slog.Info("consensus reached",
		"task_id", task.TaskID,
		"winner", result.Winner,
		"winning_bid", result.WinningBid.String(),
		"agreeing_weight", result.AgreeingWeight,
		"eligible_weight", result.TotalEligibleWeight,
		"participants", result.Participants,
	)
}

// Transition moves a task from one state to another, enforcing the legal
// transition table. Lifecycle methods use this internally; it is exposed
// for schedulers that drive terminal transitions directly.
func (e *Engine) Transition(taskID uint64, from, to model.TaskState) error {
	entry, err := e.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return transitionLocked(entry, from, to)
}

func transitionLocked(entry *taskEntry, from, to model.TaskState) error {
	if entry.task.State != from || !transitionLegal(from, to) {
		return fmt.Errorf("%w: task %d %s -> %s (current %s)",
			ErrIllegalTransition, entry.task.TaskID, from, to, entry.task.State)
	}
	entry.task.State = to
	return nil
}

// --- Read-only accessors (serve dashboards and collaborators) ---

// GetTask returns a copy of the live task.
func (e *Engine) GetTask(taskID uint64) (*model.AuctionTask, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	copy := entry.task
	return &copy, nil
}

// GetResponses returns copies of a task's collected responses in arrival
// order.
func (e *Engine) GetResponses(taskID uint64) ([]model.OperatorResponse, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]model.OperatorResponse, len(entry.responses))
	copy(out, entry.responses)
	return out, nil
}

// GetConsensusResult returns the task's consensus result, if produced.
func (e *Engine) GetConsensusResult(taskID uint64) (*model.ConsensusResult, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.consensus == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoConsensus, taskID)
	}
	copy := *entry.consensus
	return &copy, nil
}

// GetSettlement returns the task's settlement record, if committed.
func (e *Engine) GetSettlement(taskID uint64) (*model.SettlementRecord, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.settlement == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSettlement, taskID)
	}
	copy := *entry.settlement
	return &copy, nil
}

// GetChallenge returns the task's challenge, if raised.
func (e *Engine) GetChallenge(taskID uint64) (*model.Challenge, error) {
	entry, err := e.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.challenge == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoChallenge, taskID)
	}
	copy := *entry.challenge
	return &copy, nil
}

// ListTasks returns copies of all live tasks, newest first.
func (e *Engine) ListTasks() []model.AuctionTask {
	e.mu.RLock()
	entries := make([]*taskEntry, 0, len(e.tasks))
	for _, entry := range e.tasks {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	tasks := make([]model.AuctionTask, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		tasks = append(tasks, entry.task)
		entry.mu.Unlock()
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID > tasks[j].TaskID })
	return tasks
}

// entry looks up a task's arena slot.
func (e *Engine) entry(taskID uint64) (*taskEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	return entry, nil
}

// archiveWrite runs one archive operation. Archive failures never fail the
// core operation — ledger truth lives in the engine, the store is a
// projection.
func (e *Engine) archiveWrite(_ context.Context, what string, fn func() error) {
	if e.archive == nil {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("archive write failed", "entity", what, "err", err)
	}
}

func (e *Engine) publish(evt Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}
