package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/broadcast"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/config"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/usecase"
)

// Sync-event listing bounds. The default keeps the office dashboard light;
// the cap protects the query.
const (
	defaultSyncEventLimit = 50
	maxSyncEventLimit     = 500
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Enqueue     usecase.EnqueueService
	Jobs        usecase.JobsService
	Events      *broadcast.Hub
	DBCheck     func(ctx context.Context) error
	QueueCheck  func(ctx context.Context) error
	RunnerCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, enq usecase.EnqueueService, jobs usecase.JobsService, events *broadcast.Hub, dbCheck, queueCheck, runnerCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Enqueue: enq, Jobs: jobs, Events: events, DBCheck: dbCheck, QueueCheck: queueCheck, RunnerCheck: runnerCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// negotiateJSON rejects requests whose Accept header excludes JSON; every
// endpoint here speaks only JSON (or SSE, which has its own handlers).
func negotiateJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a},
	}})
	return false
}

// OperationsHandler enqueues one operation for an agent.
func (s *Server) OperationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		// Cap the body at the payload limit plus envelope slack.
		limitKB := s.Cfg.MaxEnqueueKB
		if limitKB <= 0 {
			limitKB = 256
		}
		r.Body = http.MaxBytesReader(w, r.Body, limitKB*1024*2)
		var req struct {
			Kind           string          `json:"kind" validate:"required"`
			UserID         string          `json:"user_id" validate:"required,max=100"`
			Data           json.RawMessage `json:"data"`
			IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=200"`
			DelayMS        int64           `json:"delay_ms" validate:"omitempty,gte=0"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		idemKey := req.IdempotencyKey
		if idemKey == "" {
			idemKey = r.Header.Get("Idempotency-Key")
		}
		jobID, err := s.Enqueue.Enqueue(r.Context(), domain.OperationKind(req.Kind), req.UserID, req.Data, idemKey, time.Duration(req.DelayMS)*time.Millisecond)
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID, "kind": req.Kind, "user_id": req.UserID})
	}
}

// JobGetHandler returns the queue view of one job, including progress.
func (s *Server) JobGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		jobID := chi.URLParam(r, "jobID")
		if vr := ValidateJobID(jobID); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		info, err := s.Jobs.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// JobCancelHandler cancels a queued job or requests cancellation of an
// active one. Cancelling an unknown job reports cancelled=false rather
// than an error, matching the queue port.
func (s *Server) JobCancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if vr := ValidateJobID(jobID); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		cancelled, err := s.Jobs.Cancel(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "cancelled": cancelled})
	}
}

// AgentJobsHandler lists an agent's unfinished jobs, oldest first.
func (s *Server) AgentJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if vr := ValidateAgentID(userID); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid agent id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		jobs, err := s.Jobs.ListForAgent(r.Context(), userID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if jobs == nil {
			jobs = []domain.JobInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "jobs": jobs})
	}
}

// ActiveAgentsHandler returns the agent-lock snapshot: which agents have a
// job running right now, and which one.
func (s *Server) ActiveAgentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents := s.Jobs.ActiveAgents()
		if agents == nil {
			agents = []usecase.AgentStatus{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
	}
}

// SyncEventsHandler lists an agent's recent sync history rows.
func (s *Server) SyncEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if vr := ValidateAgentID(userID); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid agent id", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		limitStr := r.URL.Query().Get("limit")
		if vr := ValidateLimit(limitStr, maxSyncEventLimit); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid limit", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		limit := defaultSyncEventLimit
		if limitStr != "" {
			limit, _ = strconv.Atoi(limitStr)
		}
		events, err := s.Jobs.RecentSyncEvents(r.Context(), userID, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if events == nil {
			events = []domain.SyncEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "events": events})
	}
}

// QueuesHandler returns the per-kind and aggregate queue census.
func (s *Server) QueuesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.Jobs.Counts(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

// ReadyzHandler returns a readiness handler that probes the database, the
// queue's Redis and the bot runner.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		run("db", s.DBCheck)
		run("queue", s.QueueCheck)
		run("bot_runner", s.RunnerCheck)
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
