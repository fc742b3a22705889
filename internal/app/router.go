package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/httpserver"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" { return []string{"*"} }
	if s == "*" { return []string{"*"} }
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" { out = append(out, p) }
	}
	if len(out) == 0 { return []string{"*"} }
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	reqTimeout := cfg.HTTPWriteTimeout
	if reqTimeout <= 0 {
		reqTimeout = 30 * time.Second
	}

	// The JSON API runs under a request deadline. The SSE streams are
	// mounted outside this group: http.TimeoutHandler buffers the body and
	// would never let a stream flush.
	r.Group(func(api chi.Router) {
		api.Use(httpserver.TimeoutMiddleware(reqTimeout))

		// Rate limit mutating endpoints
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/v1/operations", srv.OperationsHandler())
			wr.Delete("/v1/jobs/{jobID}", srv.JobCancelHandler())
		})

		// Read-only endpoints
		api.Get("/v1/jobs/{jobID}", srv.JobGetHandler())
		api.Get("/v1/agents/active", srv.ActiveAgentsHandler())
		api.Get("/v1/agents/{userID}/jobs", srv.AgentJobsHandler())
		api.Get("/v1/agents/{userID}/sync-events", srv.SyncEventsHandler())
		api.Get("/v1/queues", srv.QueuesHandler())

		// Health and metrics
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		api.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
		api.Get("/readyz", srv.ReadyzHandler())
	})

	// Event streams
	r.Get("/v1/events", srv.FirmEventsHandler())
	r.Get("/v1/agents/{userID}/events", srv.AgentEventsHandler())

	return httpserver.SecurityHeaders(r)
}
