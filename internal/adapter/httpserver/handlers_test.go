package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/broadcast"
	httpserver "github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/httpserver"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/agentlock"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/config"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/usecase"
)

type enqueueCall struct {
	kind    domain.OperationKind
	userID  string
	data    json.RawMessage
	idemKey string
	opts    domain.EnqueueOptions
}

type fakeQueue struct {
	enqueues  []enqueueCall
	job       domain.JobInfo
	jobErr    error
	cancelOK  bool
	agentJobs []domain.JobInfo
	counts    domain.JobCounts
}

func (f *fakeQueue) Enqueue(_ domain.Context, kind domain.OperationKind, userID string, data json.RawMessage, idemKey string, opts domain.EnqueueOptions) (string, error) {
	f.enqueues = append(f.enqueues, enqueueCall{kind: kind, userID: userID, data: data, idemKey: idemKey, opts: opts})
	return "job-42", nil
}

func (f *fakeQueue) CancelJob(_ domain.Context, _ string) (bool, error) { return f.cancelOK, nil }

func (f *fakeQueue) GetJob(_ domain.Context, _ string) (domain.JobInfo, error) {
	return f.job, f.jobErr
}

func (f *fakeQueue) GetJobsForAgent(_ domain.Context, _ string) ([]domain.JobInfo, error) {
	return f.agentJobs, nil
}

func (f *fakeQueue) GetJobCounts(_ domain.Context) (domain.JobCounts, error) { return f.counts, nil }

func (f *fakeQueue) UpdateProgress(_ domain.Context, _ string, _ int, _ string) error { return nil }

type fakeSyncEvents struct {
	recent []domain.SyncEvent
	gotLim int
}

func (f *fakeSyncEvents) Record(_ domain.Context, _ string, _ domain.OperationKind, _ string, _ any) error {
	return nil
}

func (f *fakeSyncEvents) Recent(_ domain.Context, _ string, limit int) ([]domain.SyncEvent, error) {
	f.gotLim = limit
	return f.recent, nil
}

func newTestServer(q domain.Queue, se domain.SyncEventStore, lock *agentlock.Lock) *httpserver.Server {
	if se == nil {
		se = &fakeSyncEvents{}
	}
	if lock == nil {
		lock = agentlock.New()
	}
	cfg := config.Config{MaxEnqueueKB: 64}
	return httpserver.NewServer(cfg,
		usecase.NewEnqueueService(q, 0),
		usecase.NewJobsService(q, lock, se),
		broadcast.NewHub(8),
		nil, nil, nil)
}

func newRouter(srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/operations", srv.OperationsHandler())
	r.Get("/v1/jobs/{jobID}", srv.JobGetHandler())
	r.Delete("/v1/jobs/{jobID}", srv.JobCancelHandler())
	r.Get("/v1/agents/active", srv.ActiveAgentsHandler())
	r.Get("/v1/agents/{userID}/jobs", srv.AgentJobsHandler())
	r.Get("/v1/agents/{userID}/sync-events", srv.SyncEventsHandler())
	r.Get("/v1/queues", srv.QueuesHandler())
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func TestOperationsHandler_Created(t *testing.T) {
	q := &fakeQueue{}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodPost, "/v1/operations",
		`{"kind":"submit-order","user_id":"alice","data":{"cartId":"c1"},"delay_ms":1500}`,
		map[string]string{"Idempotency-Key": "idem-7"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["job_id"] != "job-42" || resp["kind"] != "submit-order" || resp["user_id"] != "alice" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if len(q.enqueues) != 1 {
		t.Fatalf("want 1 enqueue, got %d", len(q.enqueues))
	}
	call := q.enqueues[0]
	if call.kind != domain.OpSubmitOrder || call.userID != "alice" {
		t.Fatalf("enqueue call mismatch: %+v", call)
	}
	if call.idemKey != "idem-7" {
		t.Fatalf("header idempotency key not forwarded: %q", call.idemKey)
	}
	if call.opts.Delay != 1500*time.Millisecond {
		t.Fatalf("delay mismatch: %v", call.opts.Delay)
	}
}

func TestOperationsHandler_BodyKeyBeatsHeader(t *testing.T) {
	q := &fakeQueue{}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodPost, "/v1/operations",
		`{"kind":"sync-orders","user_id":"alice","idempotency_key":"body-key"}`,
		map[string]string{"Idempotency-Key": "header-key"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d", rw.Code)
	}
	if q.enqueues[0].idemKey != "body-key" {
		t.Fatalf("want body key, got %q", q.enqueues[0].idemKey)
	}
}

func TestOperationsHandler_ValidationFailure(t *testing.T) {
	h := newRouter(newTestServer(&fakeQueue{}, nil, nil))

	rw := do(t, h, http.MethodPost, "/v1/operations", `{"kind":"submit-order"}`, nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rw.Code)
	}
	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rw.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code: %s", env.Error.Code)
	}
	if env.Error.Details["userid"] != "required" {
		t.Fatalf("details: %v", env.Error.Details)
	}
}

func TestOperationsHandler_UnknownKind(t *testing.T) {
	q := &fakeQueue{}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodPost, "/v1/operations", `{"kind":"fax-order","user_id":"alice"}`, nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(q.enqueues) != 0 {
		t.Fatalf("unknown kind must not reach the queue")
	}
}

func TestOperationsHandler_BadJSON(t *testing.T) {
	h := newRouter(newTestServer(&fakeQueue{}, nil, nil))
	rw := do(t, h, http.MethodPost, "/v1/operations", `{"kind":`, nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rw.Code)
	}
}

func TestOperationsHandler_NotAcceptable(t *testing.T) {
	h := newRouter(newTestServer(&fakeQueue{}, nil, nil))
	rw := do(t, h, http.MethodPost, "/v1/operations",
		`{"kind":"sync-orders","user_id":"alice"}`,
		map[string]string{"Accept": "text/html"})
	if rw.Code != http.StatusNotAcceptable {
		t.Fatalf("want 406, got %d", rw.Code)
	}
}

func TestJobGetHandler_OK(t *testing.T) {
	q := &fakeQueue{job: domain.JobInfo{
		ID: "job-9", Kind: domain.OpSyncOrders, UserID: "alice", State: domain.JobStateActive,
		Progress: domain.Progress{Percent: 40, Label: "Pagina 2 sincronizzata (50 ordini)"},
	}}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodGet, "/v1/jobs/job-9", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	var info domain.JobInfo
	if err := json.NewDecoder(rw.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID != "job-9" || info.State != domain.JobStateActive || info.Progress.Percent != 40 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestJobGetHandler_NotFound(t *testing.T) {
	q := &fakeQueue{jobErr: fmt.Errorf("op=queue.getjob: job %q: %w", "nope", domain.ErrNotFound)}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodGet, "/v1/jobs/nope", "", nil)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rw.Code)
	}
}

func TestJobGetHandler_InvalidID(t *testing.T) {
	h := newRouter(newTestServer(&fakeQueue{}, nil, nil))
	rw := do(t, h, http.MethodGet, "/v1/jobs/a%20b", "", nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rw.Code)
	}
}

func TestJobCancelHandler(t *testing.T) {
	q := &fakeQueue{cancelOK: true}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodDelete, "/v1/jobs/job-9", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	var resp struct {
		JobID     string `json:"job_id"`
		Cancelled bool   `json:"cancelled"`
	}
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Cancelled || resp.JobID != "job-9" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestAgentJobsHandler_EmptyListIsArray(t *testing.T) {
	h := newRouter(newTestServer(&fakeQueue{}, nil, nil))
	rw := do(t, h, http.MethodGet, "/v1/agents/alice/jobs", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), `"jobs":[]`) {
		t.Fatalf("empty list must serialize as [], got %s", rw.Body.String())
	}
}

func TestActiveAgentsHandler(t *testing.T) {
	lock := agentlock.New()
	if !lock.Acquire("alice", "job-1", domain.OpSyncCustomers).Acquired {
		t.Fatalf("acquire failed")
	}
	h := newRouter(newTestServer(&fakeQueue{}, nil, lock))

	rw := do(t, h, http.MethodGet, "/v1/agents/active", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	var resp struct {
		Agents []usecase.AgentStatus `json:"agents"`
	}
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Agents) != 1 || resp.Agents[0].UserID != "alice" || resp.Agents[0].JobID != "job-1" {
		t.Fatalf("unexpected agents: %+v", resp.Agents)
	}
}

func TestSyncEventsHandler_DefaultAndExplicitLimit(t *testing.T) {
	se := &fakeSyncEvents{recent: []domain.SyncEvent{{ID: "evt-1", EventType: domain.SyncEventCompleted}}}
	h := newRouter(newTestServer(&fakeQueue{}, se, nil))

	rw := do(t, h, http.MethodGet, "/v1/agents/alice/sync-events", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	if se.gotLim != 50 {
		t.Fatalf("default limit: want 50, got %d", se.gotLim)
	}

	rw = do(t, h, http.MethodGet, "/v1/agents/alice/sync-events?limit=7", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	if se.gotLim != 7 {
		t.Fatalf("explicit limit: want 7, got %d", se.gotLim)
	}

	rw = do(t, h, http.MethodGet, "/v1/agents/alice/sync-events?limit=boom", "", nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rw.Code)
	}
}

func TestQueuesHandler(t *testing.T) {
	q := &fakeQueue{counts: domain.JobCounts{
		Total:  domain.StateCounts{Active: 2, Waiting: 5},
		ByKind: map[domain.OperationKind]domain.StateCounts{domain.OpSyncOrders: {Waiting: 5}},
	}}
	h := newRouter(newTestServer(q, nil, nil))

	rw := do(t, h, http.MethodGet, "/v1/queues", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
	var counts domain.JobCounts
	if err := json.NewDecoder(rw.Body).Decode(&counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts.Total.Active != 2 || counts.ByKind[domain.OpSyncOrders].Waiting != 5 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestReadyzHandler_AllOK(t *testing.T) {
	srv := newTestServer(&fakeQueue{}, nil, nil)
	srv.DBCheck = func(context.Context) error { return nil }
	srv.QueueCheck = func(context.Context) error { return nil }
	srv.RunnerCheck = func(context.Context) error { return nil }

	rw := httptest.NewRecorder()
	srv.ReadyzHandler()(rw, httptest.NewRequest("GET", "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rw.Code)
	}
}

func TestReadyzHandler_FailingRunner(t *testing.T) {
	srv := newTestServer(&fakeQueue{}, nil, nil)
	srv.DBCheck = func(context.Context) error { return nil }
	srv.QueueCheck = func(context.Context) error { return nil }
	srv.RunnerCheck = func(context.Context) error { return errors.New("dial tcp: connection refused") }

	rw := httptest.NewRecorder()
	srv.ReadyzHandler()(rw, httptest.NewRequest("GET", "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), "bot_runner") {
		t.Fatalf("body should name the failing check: %s", rw.Body.String())
	}
}
