// Package model defines the core domain types shared across the auction
// settlement engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperatorStatus is the registration status of an operator.
type OperatorStatus string

const (
	// OperatorActive operators are eligible to vote on new tasks.
	OperatorActive OperatorStatus = "active"
	// OperatorDeregistered operators keep their history but carry zero
	// weight in any task created after deregistration.
	OperatorDeregistered OperatorStatus = "deregistered"
)

// Operator is a registered voting party. Operators are never deleted, only
// marked deregistered, so historical task responses stay attributable.
type Operator struct {
	ID           string         `json:"id" db:"id"` // public-key-derived
	StakeWeight  uint64         `json:"stake_weight" db:"stake_weight"`
	Status       OperatorStatus `json:"status" db:"status"`
	RegisteredAt time.Time      `json:"registered_at" db:"registered_at"`
}

// TaskState is the lifecycle state of an auction task.
type TaskState string

const (
	TaskCollecting       TaskState = "collecting"
	TaskConsensusReached TaskState = "consensus_reached"
	TaskSettled          TaskState = "settled"
	TaskDisputed         TaskState = "disputed"
	TaskFinalized        TaskState = "finalized"
	TaskExpired          TaskState = "expired"
)

// AuctionTask is one sealed-bid auction round put to the operator set.
// State transitions are one-directional; Disputed is reachable only from
// Settled and only inside the challenge window.
type AuctionTask struct {
	TaskID           uint64    `json:"task_id" db:"task_id"` // monotonically assigned
	SubjectID        string    `json:"subject_id" db:"subject_id"`
	State            TaskState `json:"state" db:"state"`
	QuorumBps        int64     `json:"quorum_bps" db:"quorum_bps"`           // required agreeing stake, basis points
	EligibleWeight   uint64    `json:"eligible_weight" db:"eligible_weight"` // snapshot at creation
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	ResponseDeadline time.Time `json:"response_deadline" db:"response_deadline"`
	SettledAt        time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// OperatorResponse is one operator's verdict on a task. At most one per
// (task, operator) pair — later submissions are rejected, never overwritten.
type OperatorResponse struct {
	TaskID      uint64          `json:"task_id" db:"task_id"`
	OperatorID  string          `json:"operator_id" db:"operator_id"`
	Winner      string          `json:"winner" db:"winner"`
	WinningBid  decimal.Decimal `json:"winning_bid" db:"winning_bid"`
	SubmittedAt time.Time       `json:"submitted_at" db:"submitted_at"`
}

// ConsensusResult is the agreed auction outcome. Produced exactly once per
// task and immutable thereafter.
type ConsensusResult struct {
	TaskID         uint64          `json:"task_id" db:"task_id"`
	Winner         string          `json:"winner" db:"winner"`
	WinningBid     decimal.Decimal `json:"winning_bid" db:"winning_bid"`
	AgreeingWeight uint64          `json:"agreeing_weight" db:"agreeing_weight"`
	// TotalParticipatingWeight is the snapshot weight of every operator
	// that responded, agreeing or not.
	TotalParticipatingWeight uint64    `json:"total_participating_weight" db:"total_participating_weight"`
	TotalEligibleWeight      uint64    `json:"total_eligible_weight" db:"total_eligible_weight"`
	Participants             int       `json:"participants" db:"participants"`
	ReachedAt                time.Time `json:"reached_at" db:"reached_at"`
}

// SettlementRecord is the authoritative ledger of how the winning bid is
// split. The four shares always sum exactly to TotalProceeds — the gas
// share absorbs floor-division dust.
type SettlementRecord struct {
	ID            string          `json:"id" db:"id"`
	TaskID        uint64          `json:"task_id" db:"task_id"`
	TotalProceeds decimal.Decimal `json:"total_proceeds" db:"total_proceeds"`
	LPShare       decimal.Decimal `json:"lp_share" db:"lp_share"`
	OperatorShare decimal.Decimal `json:"operator_share" db:"operator_share"`
	ProtocolShare decimal.Decimal `json:"protocol_share" db:"protocol_share"`
	GasShare      decimal.Decimal `json:"gas_share" db:"gas_share"`
	SettledAt     time.Time       `json:"settled_at" db:"settled_at"`
	// FailedTransfers lists shares whose PaymentSink transfer failed and is
	// pending retry by the payment collaborator. The record itself is final.
	FailedTransfers []string `json:"failed_transfers,omitempty" db:"failed_transfers"`
}

// Challenge is an open or resolved dispute against a settled task. At most
// one per task.
type Challenge struct {
	ID         string    `json:"id" db:"id"`
	TaskID     uint64    `json:"task_id" db:"task_id"`
	Challenger string    `json:"challenger" db:"challenger"`
	RaisedAt   time.Time `json:"raised_at" db:"raised_at"`
	Resolved   bool      `json:"resolved" db:"resolved"`
}
