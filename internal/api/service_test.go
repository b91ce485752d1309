package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/api"
	"github.com/eigenlvr/auction-engine/internal/consensus"
	"github.com/eigenlvr/auction-engine/internal/engine"
	"github.com/eigenlvr/auction-engine/internal/model"
	"github.com/eigenlvr/auction-engine/internal/registry"
	"github.com/eigenlvr/auction-engine/internal/reward"
	"github.com/eigenlvr/auction-engine/internal/store"
)

const testPoolID = "0x00a1b2c3d4e5f60718293a4b5c6d7e8f9091a2b3c4d5e6f708192a3b4c5d6e7f"

// newTestRouter builds a Service on a fresh in-memory archive with the
// routes mounted the way the server mounts them.
func newTestRouter(t *testing.T) (chi.Router, *engine.Engine) {
	t.Helper()
	return newTestRouterWith(t, store.NewMemoryStore())
}

// newTestRouterWith builds a Service over an existing archive store, so a
// second router can model reads against history written by another engine.
func newTestRouterWith(t *testing.T, ms *store.MemoryStore) (chi.Router, *engine.Engine) {
	t.Helper()

	reg := registry.New(10)
	resolver, err := consensus.NewResolver(3)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	dist, err := reward.NewDistributor(reward.DefaultSplit, nil, reward.Recipients{})
	if err != nil {
		t.Fatalf("distributor: %v", err)
	}
	eng := engine.New(reg, resolver, dist, ms, nil, time.Hour, time.Hour)
	svc := api.NewService(eng, ms)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/operators", svc.ListOperators)
		r.Post("/operators", svc.RegisterOperator)
		r.Post("/operators/{operatorID}/stake", svc.AddStake)
		r.Delete("/operators/{operatorID}", svc.DeregisterOperator)

		r.Get("/tasks", svc.ListTasks)
		r.Post("/tasks", svc.CreateTask)
		r.Get("/tasks/{taskID}", svc.GetTask)
		r.Post("/tasks/{taskID}/responses", svc.SubmitResponse)
		r.Get("/tasks/{taskID}/responses", svc.GetTaskResponses)
		r.Get("/tasks/{taskID}/consensus", svc.GetConsensus)
		r.Post("/tasks/{taskID}/settle", svc.SettleTask)
		r.Get("/tasks/{taskID}/settlement", svc.GetSettlement)
		r.Post("/tasks/{taskID}/challenge", svc.RaiseChallenge)
		r.Get("/tasks/{taskID}/challenge", svc.GetChallenge)
		r.Post("/tasks/{taskID}/challenge/resolve", svc.ResolveChallenge)
		r.Post("/tasks/{taskID}/abort", svc.AbortTask)

		r.Get("/auctions/summary", svc.AuctionSummaryHandler)
		r.Get("/settlements", svc.ListSettlements)
	})
	return r, eng
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// registerOperators seeds the default five-operator set.
func registerOperators(t *testing.T, router chi.Router) {
	t.Helper()
	for _, op := range []struct {
		id    string
		stake uint64
	}{
		{"op-a", 30}, {"op-b", 25}, {"op-c", 20}, {"op-d", 15}, {"op-e", 10},
	} {
		w := doJSON(t, router, "POST", "/api/v1/operators",
			api.RegisterOperatorRequest{OperatorID: op.id, Stake: op.stake})
		if w.Code != http.StatusCreated {
			t.Fatalf("register %s: status %d: %s", op.id, w.Code, w.Body.String())
		}
	}
}

// createTask opens a task over HTTP and returns it.
func createTask(t *testing.T, router chi.Router) model.AuctionTask {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/tasks", api.CreateTaskRequest{
		SubjectID:          testPoolID,
		ResponseWindowSecs: 60,
		QuorumBps:          6700,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: status %d: %s", w.Code, w.Body.String())
	}
	var task model.AuctionTask
	decode(t, w, &task)
	return task
}

// --- Operator endpoint tests ---

func TestRegisterOperator(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/operators",
		api.RegisterOperatorRequest{OperatorID: "op-a", Stake: 30})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var op model.Operator
	decode(t, w, &op)
	if op.ID != "op-a" || op.Status != model.OperatorActive {
		t.Errorf("unexpected operator: %+v", op)
	}

	// Duplicate registration conflicts.
	w = doJSON(t, router, "POST", "/api/v1/operators",
		api.RegisterOperatorRequest{OperatorID: "op-a", Stake: 30})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", w.Code)
	}
}

func TestRegisterOperator_InsufficientStake(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/operators",
		api.RegisterOperatorRequest{OperatorID: "op-a", Stake: 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 below min stake, got %d", w.Code)
	}
}

func TestDeregisterOperator(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)

	w := doJSON(t, router, "DELETE", "/api/v1/operators/op-e", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "DELETE", "/api/v1/operators/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown operator, got %d", w.Code)
	}
}

// --- Task endpoint tests ---

func TestCreateTask_InvalidPoolID(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)

	w := doJSON(t, router, "POST", "/api/v1/tasks", api.CreateTaskRequest{
		SubjectID:          "not-a-pool",
		ResponseWindowSecs: 60,
		QuorumBps:          6700,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed pool id, got %d", w.Code)
	}
}

func TestCreateTask_InvalidQuorum(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)

	w := doJSON(t, router, "POST", "/api/v1/tasks", api.CreateTaskRequest{
		SubjectID:          testPoolID,
		ResponseWindowSecs: 60,
		QuorumBps:          10001,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad quorum, got %d", w.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/api/v1/tasks/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/tasks/not-a-number", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestSubmitResponse_Flow(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	task := createTask(t, router)
	path := "/api/v1/tasks/" + itoa(task.TaskID) + "/responses"

	w := doJSON(t, router, "POST", path, api.SubmitResponseRequest{
		OperatorID: "op-a",
		Winner:     "0xwinner",
		WinningBid: decimal.NewFromInt(10000),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var resp model.OperatorResponse
	decode(t, w, &resp)
	if resp.OperatorID != "op-a" || !resp.WinningBid.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected response: %+v", resp)
	}

	// Idempotent duplicate: 200 with the stored first response.
	w = doJSON(t, router, "POST", path, api.SubmitResponseRequest{
		OperatorID: "op-a",
		Winner:     "0xother",
		WinningBid: decimal.NewFromInt(1),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d: %s", w.Code, w.Body.String())
	}
	var dup model.OperatorResponse
	decode(t, w, &dup)
	if dup.Winner != "0xwinner" {
		t.Errorf("duplicate must return the first verdict, got %+v", dup)
	}
}

func TestSubmitResponse_IneligibleOperator(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	task := createTask(t, router)

	w := doJSON(t, router, "POST", "/api/v1/tasks/"+itoa(task.TaskID)+"/responses",
		api.SubmitResponseRequest{OperatorID: "ghost", Winner: "0xwinner", WinningBid: decimal.NewFromInt(1)})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for ineligible operator, got %d", w.Code)
	}
}

func TestSettlementFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	task := createTask(t, router)
	base := "/api/v1/tasks/" + itoa(task.TaskID)

	// Settling before consensus conflicts.
	w := doJSON(t, router, "POST", base+"/settle", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before consensus, got %d", w.Code)
	}

	// Three heaviest operators agree: 75 of 100 >= 67%.
	for _, op := range []string{"op-a", "op-b", "op-c"} {
		w := doJSON(t, router, "POST", base+"/responses", api.SubmitResponseRequest{
			OperatorID: op, Winner: "0xwinner", WinningBid: decimal.NewFromInt(10000),
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("submit %s: status %d: %s", op, w.Code, w.Body.String())
		}
	}

	w = doJSON(t, router, "GET", base+"/consensus", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consensus: status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", base+"/settle", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("settle: status %d: %s", w.Code, w.Body.String())
	}
	var rec model.SettlementRecord
	decode(t, w, &rec)
	if !rec.LPShare.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("expected lp share 8500, got %s", rec.LPShare)
	}

	// Repeat settle conflicts; the record endpoint still serves it.
	w = doJSON(t, router, "POST", base+"/settle", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on repeat settle, got %d", w.Code)
	}
	w = doJSON(t, router, "GET", base+"/settlement", nil)
	if w.Code != http.StatusOK {
		t.Errorf("settlement read: status %d", w.Code)
	}

	// Challenge inside the window, then resolve.
	w = doJSON(t, router, "POST", base+"/challenge", api.ChallengeRequest{Challenger: "0xchallenger"})
	if w.Code != http.StatusCreated {
		t.Fatalf("challenge: status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", base+"/challenge/resolve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", base, nil)
	var final model.AuctionTask
	decode(t, w, &final)
	if final.State != model.TaskFinalized {
		t.Errorf("expected finalized, got %s", final.State)
	}
}

func TestAbortTask(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	task := createTask(t, router)

	w := doJSON(t, router, "POST", "/api/v1/tasks/"+itoa(task.TaskID)+"/abort", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("abort: status %d: %s", w.Code, w.Body.String())
	}
	// Abort is final.
	w = doJSON(t, router, "POST", "/api/v1/tasks/"+itoa(task.TaskID)+"/abort", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on repeat abort, got %d", w.Code)
	}
}

func TestListTasks_StateFilter(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	createTask(t, router)
	aborted := createTask(t, router)
	doJSON(t, router, "POST", "/api/v1/tasks/"+itoa(aborted.TaskID)+"/abort", nil)

	w := doJSON(t, router, "GET", "/api/v1/tasks?state=collecting", nil)
	var tasks []model.AuctionTask
	decode(t, w, &tasks)
	if len(tasks) != 1 || tasks[0].State != model.TaskCollecting {
		t.Errorf("expected 1 collecting task, got %+v", tasks)
	}
}

// --- Archive read path tests ---

func TestHistoryReads_ServedFromArchive(t *testing.T) {
	ms := store.NewMemoryStore()
	writer, _ := newTestRouterWith(t, ms)
	registerOperators(t, writer)
	task := createTask(t, writer)
	base := "/api/v1/tasks/" + itoa(task.TaskID)

	for _, op := range []string{"op-a", "op-b", "op-c"} {
		w := doJSON(t, writer, "POST", base+"/responses", api.SubmitResponseRequest{
			OperatorID: op, Winner: "0xwinner", WinningBid: decimal.NewFromInt(10000),
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("submit %s: status %d: %s", op, w.Code, w.Body.String())
		}
	}
	doJSON(t, writer, "POST", base+"/settle", nil)
	doJSON(t, writer, "POST", base+"/challenge", api.ChallengeRequest{Challenger: "0xchallenger"})
	doJSON(t, writer, "POST", base+"/challenge/resolve", nil)

	// A fresh engine over the same archive holds nothing in its arena —
	// the same situation as after sweep eviction or a restart. Every
	// history read must come back from the archive.
	reader, _ := newTestRouterWith(t, ms)

	w := doJSON(t, reader, "GET", base, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("task from archive: status %d: %s", w.Code, w.Body.String())
	}
	var got model.AuctionTask
	decode(t, w, &got)
	if got.State != model.TaskFinalized {
		t.Errorf("expected archived finalized state, got %s", got.State)
	}

	w = doJSON(t, reader, "GET", base+"/responses", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("responses from archive: status %d: %s", w.Code, w.Body.String())
	}
	var resps []model.OperatorResponse
	decode(t, w, &resps)
	if len(resps) != 3 || resps[0].OperatorID != "op-a" {
		t.Errorf("unexpected archived responses: %+v", resps)
	}

	w = doJSON(t, reader, "GET", base+"/consensus", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consensus from archive: status %d: %s", w.Code, w.Body.String())
	}
	var result model.ConsensusResult
	decode(t, w, &result)
	if result.Winner != "0xwinner" {
		t.Errorf("unexpected archived consensus: %+v", result)
	}

	w = doJSON(t, reader, "GET", base+"/settlement", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settlement from archive: status %d: %s", w.Code, w.Body.String())
	}
	var rec model.SettlementRecord
	decode(t, w, &rec)
	if !rec.LPShare.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("unexpected archived settlement: %+v", rec)
	}

	w = doJSON(t, reader, "GET", base+"/challenge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("challenge from archive: status %d: %s", w.Code, w.Body.String())
	}
	var ch model.Challenge
	decode(t, w, &ch)
	if !ch.Resolved {
		t.Errorf("unexpected archived challenge: %+v", ch)
	}

	w = doJSON(t, reader, "GET", "/api/v1/tasks", nil)
	var tasks []model.AuctionTask
	decode(t, w, &tasks)
	if len(tasks) != 1 || tasks[0].TaskID != task.TaskID {
		t.Errorf("expected archived task in listing, got %+v", tasks)
	}

	// The reader's registry is empty; the roster comes from the archive.
	w = doJSON(t, reader, "GET", "/api/v1/operators", nil)
	var ops []model.Operator
	decode(t, w, &ops)
	if len(ops) != 5 {
		t.Errorf("expected archived operator roster of 5, got %d", len(ops))
	}

	// Tasks absent from both arena and archive still 404.
	w = doJSON(t, reader, "GET", "/api/v1/tasks/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task, got %d", w.Code)
	}
	w = doJSON(t, reader, "GET", "/api/v1/tasks/999/responses", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task responses, got %d", w.Code)
	}
}

// --- Dashboard tests ---

func TestAuctionSummary(t *testing.T) {
	router, _ := newTestRouter(t)
	registerOperators(t, router)
	task := createTask(t, router)
	base := "/api/v1/tasks/" + itoa(task.TaskID)

	for _, op := range []string{"op-a", "op-b", "op-c"} {
		doJSON(t, router, "POST", base+"/responses", api.SubmitResponseRequest{
			OperatorID: op, Winner: "0xwinner", WinningBid: decimal.NewFromInt(10000),
		})
	}
	doJSON(t, router, "POST", base+"/settle", nil)
	createTask(t, router) // one still collecting

	w := doJSON(t, router, "GET", "/api/v1/auctions/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: status %d: %s", w.Code, w.Body.String())
	}
	var summary api.AuctionSummary
	decode(t, w, &summary)

	if summary.ActiveAuctions != 1 {
		t.Errorf("expected 1 active auction, got %d", summary.ActiveAuctions)
	}
	if summary.SettledAuctions != 1 {
		t.Errorf("expected 1 settled auction, got %d", summary.SettledAuctions)
	}
	if summary.ActiveOperators != 5 {
		t.Errorf("expected 5 active operators, got %d", summary.ActiveOperators)
	}
	if !summary.TotalProceeds.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected proceeds 10000, got %s", summary.TotalProceeds)
	}
	if !summary.TotalLPRewards.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("expected lp rewards 8500, got %s", summary.TotalLPRewards)
	}
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
