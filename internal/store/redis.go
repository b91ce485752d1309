package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eigenlvr/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot dashboard reads. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveTask(ctx context.Context, task *model.AuctionTask) error {
	if err := s.primary.SaveTask(ctx, task); err != nil {
		return err
	}
	s.cacheJSON(ctx, taskKey(task.TaskID), task)
	return nil
}

func (s *CachedStore) UpdateTask(ctx context.Context, task *model.AuctionTask) error {
	if err := s.primary.UpdateTask(ctx, task); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, taskKey(task.TaskID))
	return nil
}

func (s *CachedStore) SaveConsensusResult(ctx context.Context, result *model.ConsensusResult) error {
	if err := s.primary.SaveConsensusResult(ctx, result); err != nil {
		return err
	}
	s.cacheJSON(ctx, consensusKey(result.TaskID), result)
	return nil
}

func (s *CachedStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.primary.SaveSettlement(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, settlementKey(rec.TaskID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTask(ctx context.Context, taskID uint64) (*model.AuctionTask, error) {
	if data, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes(); err == nil {
		var t model.AuctionTask
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, taskKey(taskID), t)
	return t, nil
}

func (s *CachedStore) GetConsensusResult(ctx context.Context, taskID uint64) (*model.ConsensusResult, error) {
	if data, err := s.rdb.Get(ctx, consensusKey(taskID)).Bytes(); err == nil {
		var r model.ConsensusResult
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetConsensusResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, consensusKey(taskID), r)
	return r, nil
}

func (s *CachedStore) GetSettlement(ctx context.Context, taskID uint64) (*model.SettlementRecord, error) {
	if data, err := s.rdb.Get(ctx, settlementKey(taskID)).Bytes(); err == nil {
		var rec model.SettlementRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetSettlement(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, settlementKey(taskID), rec)
	return rec, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTasks(ctx context.Context) ([]model.AuctionTask, error) {
	return s.primary.ListTasks(ctx)
}

func (s *CachedStore) SaveResponse(ctx context.Context, resp *model.OperatorResponse) error {
	return s.primary.SaveResponse(ctx, resp)
}

func (s *CachedStore) GetResponsesByTask(ctx context.Context, taskID uint64) ([]model.OperatorResponse, error) {
	return s.primary.GetResponsesByTask(ctx, taskID)
}

func (s *CachedStore) ListSettlements(ctx context.Context) ([]model.SettlementRecord, error) {
	return s.primary.ListSettlements(ctx)
}

func (s *CachedStore) SaveChallenge(ctx context.Context, ch *model.Challenge) error {
	return s.primary.SaveChallenge(ctx, ch)
}

func (s *CachedStore) MarkChallengeResolved(ctx context.Context, taskID uint64) error {
	return s.primary.MarkChallengeResolved(ctx, taskID)
}

func (s *CachedStore) GetChallenge(ctx context.Context, taskID uint64) (*model.Challenge, error) {
	return s.primary.GetChallenge(ctx, taskID)
}

func (s *CachedStore) SaveOperator(ctx context.Context, op *model.Operator) error {
	return s.primary.SaveOperator(ctx, op)
}

func (s *CachedStore) ListOperators(ctx context.Context) ([]model.Operator, error) {
	return s.primary.ListOperators(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func taskKey(id uint64) string       { return fmt.Sprintf("task:%d", id) }
func consensusKey(id uint64) string  { return fmt.Sprintf("consensus:%d", id) }
func settlementKey(id uint64) string { return fmt.Sprintf("settlement:%d", id) }
