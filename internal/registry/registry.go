// Package registry tracks the operator set: who may vote on auction tasks,
// with what stake weight, and whether they are still active.
//
// Weights are snapshotted per task at creation time. Quorum arithmetic for
// a task always uses its snapshot, so an operator adjusting stake mid-auction
// cannot manipulate an in-flight quorum.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eigenlvr/auction-engine/internal/model"
)

var (
	// ErrInsufficientStake is returned when a registration carries less
	// than the configured minimum stake.
	ErrInsufficientStake = errors.New("registry: stake below required minimum")

	// ErrAlreadyRegistered is returned when the operator id is taken.
	ErrAlreadyRegistered = errors.New("registry: operator already registered")

	// ErrNotRegistered is returned for operations on unknown operators.
	ErrNotRegistered = errors.New("registry: operator not registered")

	// ErrNoSnapshot is returned when a task has no recorded weight snapshot.
	ErrNoSnapshot = errors.New("registry: no weight snapshot for task")
)

// Snapshot is a frozen copy of the active operator weights at one instant.
type Snapshot struct {
	Weights map[string]uint64
	Total   uint64
}

// WeightOf returns the snapshot weight of an operator, zero if the operator
// was not active when the snapshot was taken.
func (s Snapshot) WeightOf(operatorID string) uint64 {
	return s.Weights[operatorID]
}

// Registry is the in-process operator registry. Safe for concurrent use.
type Registry struct {
	minStake uint64

	mu        sync.RWMutex
	operators map[string]*model.Operator
	snapshots map[uint64]Snapshot // taskID → frozen weights
}

// New creates a registry requiring at least minStake to register.
func New(minStake uint64) *Registry {
	return &Registry{
		minStake:  minStake,
		operators: make(map[string]*model.Operator),
		snapshots: make(map[uint64]Snapshot),
	}
}

// Register adds a new active operator with the given stake weight.
func (r *Registry) Register(operatorID string, stake uint64) (*model.Operator, error) {
	if stake < r.minStake {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientStake, stake, r.minStake)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operators[operatorID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, operatorID)
	}

	op := &model.Operator{
		ID:           operatorID,
		StakeWeight:  stake,
		Status:       model.OperatorActive,
		RegisteredAt: time.Now().UTC(),
	}
	r.operators[operatorID] = op

	copy := *op
	return &copy, nil
}

// AddStake increases an active operator's weight. Future task snapshots see
// the new weight; existing snapshots are unaffected.
func (r *Registry) AddStake(operatorID string, amount uint64) (*model.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.operators[operatorID]
	if !exists || op.Status != model.OperatorActive {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, operatorID)
	}

	op.StakeWeight += amount
	copy := *op
	return &copy, nil
}

// Deregister marks an operator deregistered and zeroes its weight. The
// record is kept so historical responses remain attributable.
func (r *Registry) Deregister(operatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.operators[operatorID]
	if !exists || op.Status != model.OperatorActive {
		return fmt.Errorf("%w: %s", ErrNotRegistered, operatorID)
	}

	op.StakeWeight = 0
	op.Status = model.OperatorDeregistered
	return nil
}

// Get returns a copy of one operator record.
func (r *Registry) Get(operatorID string) (*model.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, exists := r.operators[operatorID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, operatorID)
	}
	copy := *op
	return &copy, nil
}

// List returns copies of all operator records, active and deregistered.
func (r *Registry) List() []model.Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]model.Operator, 0, len(r.operators))
	for _, op := range r.operators {
		ops = append(ops, *op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

// ActiveCount returns the number of active operators.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, op := range r.operators {
		if op.Status == model.OperatorActive {
			n++
		}
	}
	return n
}

// RecordSnapshot freezes the current active weights under a task id and
// returns the frozen copy. Called once by the task store at task creation.
func (r *Registry) RecordSnapshot(taskID uint64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	weights := make(map[string]uint64)
	var total uint64
	for id, op := range r.operators {
		if op.Status != model.OperatorActive || op.StakeWeight == 0 {
			continue
		}
		weights[id] = op.StakeWeight
		total += op.StakeWeight
	}

	snap := Snapshot{Weights: weights, Total: total}
	r.snapshots[taskID] = snap
	return snap
}

// DropSnapshot releases a task's frozen weights. Called when the task is
// evicted from the engine arena; the archive keeps the task's history.
func (r *Registry) DropSnapshot(taskID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, taskID)
}

// WeightOf returns an operator's weight at the time the task was created.
func (r *Registry) WeightOf(operatorID string, taskID uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[taskID]
	if !ok {
		return 0, fmt.Errorf("%w: task %d", ErrNoSnapshot, taskID)
	}
	return snap.Weights[operatorID], nil
}

// EligibleWeightTotal returns the summed active weight at task creation.
func (r *Registry) EligibleWeightTotal(taskID uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[taskID]
	if !ok {
		return 0, fmt.Errorf("%w: task %d", ErrNoSnapshot, taskID)
	}
	return snap.Total, nil
}
