package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eigenlvr/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[uint64]*model.AuctionTask
	responses   map[uint64][]model.OperatorResponse
	consensus   map[uint64]*model.ConsensusResult
	settlements map[uint64]*model.SettlementRecord
	challenges  map[uint64]*model.Challenge
	operators   map[string]*model.Operator
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[uint64]*model.AuctionTask),
		responses:   make(map[uint64][]model.OperatorResponse),
		consensus:   make(map[uint64]*model.ConsensusResult),
		settlements: make(map[uint64]*model.SettlementRecord),
		challenges:  make(map[uint64]*model.Challenge),
		operators:   make(map[string]*model.Operator),
	}
}

func (s *MemoryStore) SaveTask(_ context.Context, task *model.AuctionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %d already archived", task.TaskID)
	}

	// Store a copy to avoid external mutation.
	copy := *task
	s.tasks[task.TaskID] = &copy
	return nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *model.AuctionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.TaskID]; !exists {
		return fmt.Errorf("task %d not found", task.TaskID)
	}
	copy := *task
	s.tasks[task.TaskID] = &copy
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID uint64) (*model.AuctionTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %d not found", taskID)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTasks(_ context.Context) ([]model.AuctionTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.AuctionTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID > tasks[j].TaskID })
	return tasks, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, resp *model.OperatorResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses[resp.TaskID] = append(s.responses[resp.TaskID], *resp)
	return nil
}

func (s *MemoryStore) GetResponsesByTask(_ context.Context, taskID uint64) ([]model.OperatorResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resps := s.responses[taskID]
	out := make([]model.OperatorResponse, len(resps))
	copy(out, resps)
	return out, nil
}

func (s *MemoryStore) SaveConsensusResult(_ context.Context, result *model.ConsensusResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consensus[result.TaskID]; exists {
		return fmt.Errorf("consensus result for task %d already archived", result.TaskID)
	}
	copy := *result
	s.consensus[result.TaskID] = &copy
	return nil
}

func (s *MemoryStore) GetConsensusResult(_ context.Context, taskID uint64) (*model.ConsensusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.consensus[taskID]
	if !ok {
		return nil, fmt.Errorf("no consensus result for task %d", taskID)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *rec
	s.settlements[rec.TaskID] = &copy
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, taskID uint64) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.settlements[taskID]
	if !ok {
		return nil, fmt.Errorf("no settlement for task %d", taskID)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListSettlements(_ context.Context) ([]model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]model.SettlementRecord, 0, len(s.settlements))
	for _, r := range s.settlements {
		recs = append(recs, *r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TaskID > recs[j].TaskID })
	return recs, nil
}

func (s *MemoryStore) SaveChallenge(_ context.Context, ch *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *ch
	s.challenges[ch.TaskID] = &copy
	return nil
}

func (s *MemoryStore) MarkChallengeResolved(_ context.Context, taskID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[taskID]
	if !ok {
		return fmt.Errorf("no challenge for task %d", taskID)
	}
	ch.Resolved = true
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, taskID uint64) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.challenges[taskID]
	if !ok {
		return nil, fmt.Errorf("no challenge for task %d", taskID)
	}
	copy := *ch
	return &copy, nil
}

func (s *MemoryStore) SaveOperator(_ context.Context, op *model.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *op
	s.operators[op.ID] = &copy
	return nil
}

func (s *MemoryStore) ListOperators(_ context.Context) ([]model.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := make([]model.Operator, 0, len(s.operators))
	for _, op := range s.operators {
		ops = append(ops, *op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops, nil
}
