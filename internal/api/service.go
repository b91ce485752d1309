// Package api provides the HTTP surface of the auction settlement engine:
// operator registration, task creation, response submission, settlement,
// challenges, and the read-only history endpoints dashboards consume.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/consensus"
	"github.com/eigenlvr/auction-engine/internal/engine"
	"github.com/eigenlvr/auction-engine/internal/model"
	"github.com/eigenlvr/auction-engine/internal/pool"
	"github.com/eigenlvr/auction-engine/internal/registry"
	"github.com/eigenlvr/auction-engine/internal/store"
)

// Service exposes the engine over HTTP. The archive store serves history
// reads; live task state always comes from the engine.
type Service struct {
	engine  *engine.Engine
	archive store.Store
}

// NewService creates the HTTP service.
func NewService(eng *engine.Engine, archive store.Store) *Service {
	return &Service{engine: eng, archive: archive}
}

// --- Request/Response types ---

// CreateTaskRequest is the JSON body for POST /api/v1/tasks. The trigger
// (price-deviation detection) supplies the subject and suggested window.
type CreateTaskRequest struct {
	SubjectID          string `json:"subject_id"` // 0x-prefixed 32-byte pool id
	ResponseWindowSecs int64  `json:"response_window_secs"`
	QuorumBps          int64  `json:"quorum_bps"` // e.g. 6700 = 67%
}

// SubmitResponseRequest is the JSON body for submitting one operator's
// validated auction verdict. Signature verification happens upstream.
type SubmitResponseRequest struct {
	OperatorID string          `json:"operator_id"`
	Winner     string          `json:"winner"`
	WinningBid decimal.Decimal `json:"winning_bid"`
}

// RegisterOperatorRequest is the JSON body for operator registration.
type RegisterOperatorRequest struct {
	OperatorID string `json:"operator_id"`
	Stake      uint64 `json:"stake"`
}

// AddStakeRequest is the JSON body for a stake increase.
type AddStakeRequest struct {
	Amount uint64 `json:"amount"`
}

// ChallengeRequest is the JSON body for raising a dispute.
type ChallengeRequest struct {
	Challenger string `json:"challenger"`
}

// AuctionSummary aggregates dashboard statistics.
type AuctionSummary struct {
	ActiveAuctions     int             `json:"active_auctions"`
	SettledAuctions    int             `json:"settled_auctions"`
	TotalProceeds      decimal.Decimal `json:"total_proceeds"`
	TotalLPRewards     decimal.Decimal `json:"total_lp_rewards"`
	ActiveOperators    int             `json:"active_operators"`
	DisputedSettlement int             `json:"disputed_settlements"`
}

// --- Operator handlers ---

// RegisterOperator handles POST /api/v1/operators
func (s *Service) RegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req RegisterOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OperatorID == "" {
		writeError(w, "operator_id is required", http.StatusBadRequest)
		return
	}

	op, err := s.engine.Registry().Register(req.OperatorID, req.Stake)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	s.archiveOperator(r, op)
	slog.Info("operator registered", "operator", op.ID, "stake", op.StakeWeight)

	writeJSON(w, http.StatusCreated, op)
}

// AddStake handles POST /api/v1/operators/{operatorID}/stake
func (s *Service) AddStake(w http.ResponseWriter, r *http.Request) {
	operatorID := chi.URLParam(r, "operatorID")

	var req AddStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	op, err := s.engine.Registry().AddStake(operatorID, req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	s.archiveOperator(r, op)
	writeJSON(w, http.StatusOK, op)
}

// DeregisterOperator handles DELETE /api/v1/operators/{operatorID}
// The operator record is kept with zero weight, never deleted.
func (s *Service) DeregisterOperator(w http.ResponseWriter, r *http.Request) {
	operatorID := chi.URLParam(r, "operatorID")

	if err := s.engine.Registry().Deregister(operatorID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	op, err := s.engine.Registry().Get(operatorID)
	if err == nil {
		s.archiveOperator(r, op)
	}
	slog.Info("operator deregistered", "operator", operatorID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

// ListOperators handles GET /api/v1/operators
// The live registry is authoritative; after a restart its projection in the
// archive still serves the operator roster.
func (s *Service) ListOperators(w http.ResponseWriter, r *http.Request) {
	ops := s.engine.Registry().List()
	if len(ops) == 0 {
		if archived, err := s.archive.ListOperators(r.Context()); err == nil {
			ops = archived
		}
	}
	if ops == nil {
		ops = []model.Operator{}
	}
	writeJSON(w, http.StatusOK, ops)
}

// --- Task handlers ---

// CreateTask handles POST /api/v1/tasks
// Called by the price-deviation trigger; this is the only way a task is
// created.
func (s *Service) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	poolID, err := pool.Parse(req.SubjectID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	deadline := time.Now().UTC().Add(time.Duration(req.ResponseWindowSecs) * time.Second)
	task, err := s.engine.CreateTask(r.Context(), poolID.String(), deadline, req.QuorumBps)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// SubmitResponse handles POST /api/v1/tasks/{taskID}/responses
// A duplicate submission from the same operator is answered with the
// stored first response — an idempotent no-op for at-least-once delivery,
// not an error.
func (s *Service) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	var req SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OperatorID == "" {
		writeError(w, "operator_id is required", http.StatusBadRequest)
		return
	}
	if req.Winner == "" {
		writeError(w, "winner is required", http.StatusBadRequest)
		return
	}

	resp, err := s.engine.Submit(r.Context(), taskID, req.OperatorID, req.Winner, req.WinningBid)
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateResponse) {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// GetTask handles GET /api/v1/tasks/{taskID}
// Live tasks come from the engine; tasks evicted from the arena are served
// from the archive.
func (s *Service) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := s.engine.GetTask(taskID)
	if errors.Is(err, engine.ErrTaskNotFound) {
		if archived, archiveErr := s.archive.GetTask(r.Context(), taskID); archiveErr == nil {
			writeJSON(w, http.StatusOK, archived)
			return
		}
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/v1/tasks
// Served from the archive: it holds every task ever created, including
// those the sweeper has evicted from the arena.
func (s *Service) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.archive.ListTasks(r.Context())
	if err != nil {
		writeError(w, "failed to load tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []model.AuctionTask{}
	}

	// Optional filter by ?state=collecting etc.
	if state := r.URL.Query().Get("state"); state != "" {
		var filtered []model.AuctionTask
		for _, t := range tasks {
			if t.State == model.TaskState(state) {
				filtered = append(filtered, t)
			}
		}
		if filtered == nil {
			filtered = []model.AuctionTask{}
		}
		tasks = filtered
	}

	writeJSON(w, http.StatusOK, tasks)
}

// GetTaskResponses handles GET /api/v1/tasks/{taskID}/responses
// Responses for evicted tasks are read back from the archive, gated on the
// task existing there (the response table alone cannot distinguish an
// unknown task from one with no responses).
func (s *Service) GetTaskResponses(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	resps, err := s.engine.GetResponses(taskID)
	if errors.Is(err, engine.ErrTaskNotFound) {
		if _, archiveErr := s.archive.GetTask(r.Context(), taskID); archiveErr == nil {
			archived, archiveErr := s.archive.GetResponsesByTask(r.Context(), taskID)
			if archiveErr != nil {
				writeError(w, "failed to load responses", http.StatusInternalServerError)
				return
			}
			if archived == nil {
				archived = []model.OperatorResponse{}
			}
			writeJSON(w, http.StatusOK, archived)
			return
		}
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if resps == nil {
		resps = []model.OperatorResponse{}
	}
	writeJSON(w, http.StatusOK, resps)
}

// GetConsensus handles GET /api/v1/tasks/{taskID}/consensus
func (s *Service) GetConsensus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	result, err := s.engine.GetConsensusResult(taskID)
	if errors.Is(err, engine.ErrTaskNotFound) {
		if archived, archiveErr := s.archive.GetConsensusResult(r.Context(), taskID); archiveErr == nil {
			writeJSON(w, http.StatusOK, archived)
			return
		}
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetSettlement handles GET /api/v1/tasks/{taskID}/settlement
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.GetSettlement(taskID)
	if errors.Is(err, engine.ErrTaskNotFound) {
		if archived, archiveErr := s.archive.GetSettlement(r.Context(), taskID); archiveErr == nil {
			writeJSON(w, http.StatusOK, archived)
			return
		}
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetChallenge handles GET /api/v1/tasks/{taskID}/challenge
func (s *Service) GetChallenge(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	ch, err := s.engine.GetChallenge(taskID)
	if errors.Is(err, engine.ErrTaskNotFound) {
		if archived, archiveErr := s.archive.GetChallenge(r.Context(), taskID); archiveErr == nil {
			writeJSON(w, http.StatusOK, archived)
			return
		}
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// SettleTask handles POST /api/v1/tasks/{taskID}/settle
func (s *Service) SettleTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Settle(r.Context(), taskID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RaiseChallenge handles POST /api/v1/tasks/{taskID}/challenge
func (s *Service) RaiseChallenge(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Challenger == "" {
		writeError(w, "challenger is required", http.StatusBadRequest)
		return
	}

	ch, err := s.engine.RaiseChallenge(r.Context(), taskID, req.Challenger)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// ResolveChallenge handles POST /api/v1/tasks/{taskID}/challenge/resolve
// Called by the external dispute-resolution collaborator.
func (s *Service) ResolveChallenge(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := s.engine.ResolveChallenge(r.Context(), taskID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// CloseWindow handles POST /api/v1/tasks/{taskID}/close-window
func (s *Service) CloseWindow(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := s.engine.CloseWindow(r.Context(), taskID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

// AbortTask handles POST /api/v1/tasks/{taskID}/abort
func (s *Service) AbortTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := s.engine.AbortTask(r.Context(), taskID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

// --- Dashboard handlers ---

// AuctionSummaryHandler handles GET /api/v1/auctions/summary
// Aggregate statistics across live tasks and archived settlements.
func (s *Service) AuctionSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary := AuctionSummary{
		TotalProceeds:   decimal.Zero,
		TotalLPRewards:  decimal.Zero,
		ActiveOperators: s.engine.Registry().ActiveCount(),
	}

	for _, t := range s.engine.ListTasks() {
		switch t.State {
		case model.TaskCollecting, model.TaskConsensusReached:
			summary.ActiveAuctions++
		case model.TaskDisputed:
			summary.DisputedSettlement++
		}
	}

	recs, err := s.archive.ListSettlements(r.Context())
	if err != nil {
		writeError(w, "failed to load settlements", http.StatusInternalServerError)
		return
	}
	summary.SettledAuctions = len(recs)
	for _, rec := range recs {
		summary.TotalProceeds = summary.TotalProceeds.Add(rec.TotalProceeds)
		summary.TotalLPRewards = summary.TotalLPRewards.Add(rec.LPShare)
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListSettlements handles GET /api/v1/settlements (archive history).
func (s *Service) ListSettlements(w http.ResponseWriter, r *http.Request) {
	recs, err := s.archive.ListSettlements(r.Context())
	if err != nil {
		writeError(w, "failed to load settlements", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []model.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Helpers ---

func (s *Service) archiveOperator(r *http.Request, op *model.Operator) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveOperator(r.Context(), op); err != nil {
		slog.Warn("archive write failed", "entity", "operator", "err", err)
	}
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "taskID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, "invalid task id: "+raw, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// statusFor maps typed engine/registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, engine.ErrNoConsensus),
		errors.Is(err, engine.ErrNoSettlement),
		errors.Is(err, engine.ErrNoChallenge),
		errors.Is(err, registry.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidThreshold),
		errors.Is(err, engine.ErrInvalidDeadline),
		errors.Is(err, registry.ErrInsufficientStake),
		errors.Is(err, consensus.ErrNegativeBid),
		errors.Is(err, consensus.ErrFractionalBid),
		errors.Is(err, pool.ErrInvalidPoolID):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownOperator):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrDeadlinePassed),
		errors.Is(err, engine.ErrWindowClosed):
		return http.StatusGone
	case errors.Is(err, engine.ErrTaskNotCollecting),
		errors.Is(err, engine.ErrAlreadySettled),
		errors.Is(err, engine.ErrIllegalTransition),
		errors.Is(err, engine.ErrNotSettled),
		errors.Is(err, engine.ErrWindowOpen),
		errors.Is(err, engine.ErrAlreadyChallenged),
		errors.Is(err, engine.ErrDuplicateResponse),
		errors.Is(err, registry.ErrAlreadyRegistered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
