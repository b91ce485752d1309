package engine

import "github.com/eigenlvr/auction-engine/internal/model"

// Event types published over the lifecycle event feed.
const (
	EventTaskCreated      = "task_created"
	EventResponseRecorded = "response_recorded"
	EventConsensusReached = "consensus_reached"
	EventTaskSettled      = "task_settled"
	EventTaskDisputed     = "task_disputed"
	EventTaskFinalized    = "task_finalized"
	EventTaskExpired      = "task_expired"
)

// Event is a task lifecycle notification for dashboard consumers.
type Event struct {
	Type       string          `json:"type"`
	TaskID     uint64          `json:"task_id"`
	SubjectID  string          `json:"subject_id"`
	State      model.TaskState `json:"state"`
	Operator   string          `json:"operator,omitempty"`
	Winner     string          `json:"winner,omitempty"`
	WinningBid string          `json:"winning_bid,omitempty"`
}

// EventSink receives lifecycle events. Implementations must not block;
// the engine publishes on its mutation paths.
type EventSink interface {
	Publish(Event)
}
