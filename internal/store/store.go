// Package store defines the archive persistence interface for the auction
// settlement engine. The engine's in-memory arena is the source of truth
// for live tasks; the store is the durable projection that history and
// dashboard reads are served from. Implementations include PostgreSQL
// (durable archive), Redis (read-through cache), and in-memory (for
// testing).
package store

import (
	"context"

	"github.com/eigenlvr/auction-engine/internal/model"
)

// Store is the archive interface. Writes are append/update projections of
// engine state; reads serve the history endpoints.
type Store interface {
	// --- Tasks ---

	// SaveTask persists a newly created task.
	SaveTask(ctx context.Context, task *model.AuctionTask) error

	// UpdateTask overwrites the mutable task fields (state, settledAt).
	UpdateTask(ctx context.Context, task *model.AuctionTask) error

	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, taskID uint64) (*model.AuctionTask, error)

	// ListTasks returns all archived tasks, newest first.
	ListTasks(ctx context.Context) ([]model.AuctionTask, error)

	// --- Responses (immutable) ---

	// SaveResponse appends an operator response record.
	SaveResponse(ctx context.Context, resp *model.OperatorResponse) error

	// GetResponsesByTask returns all responses for a task in arrival order.
	GetResponsesByTask(ctx context.Context, taskID uint64) ([]model.OperatorResponse, error)

	// --- Consensus results (immutable) ---

	SaveConsensusResult(ctx context.Context, result *model.ConsensusResult) error
	GetConsensusResult(ctx context.Context, taskID uint64) (*model.ConsensusResult, error)

	// --- Settlements (immutable) ---

	SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error
	GetSettlement(ctx context.Context, taskID uint64) (*model.SettlementRecord, error)
	ListSettlements(ctx context.Context) ([]model.SettlementRecord, error)

	// --- Challenges ---

	SaveChallenge(ctx context.Context, ch *model.Challenge) error
	MarkChallengeResolved(ctx context.Context, taskID uint64) error
	GetChallenge(ctx context.Context, taskID uint64) (*model.Challenge, error)

	// --- Operators ---

	// SaveOperator upserts an operator record (registration, stake change,
	// deregistration all project through here).
	SaveOperator(ctx context.Context, op *model.Operator) error
	ListOperators(ctx context.Context) ([]model.Operator, error)
}
