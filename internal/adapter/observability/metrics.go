package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	OperationsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_enqueued_total",
			Help: "Total number of operations enqueued",
		},
		[]string{"kind"},
	)
	OperationsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "operations_processing",
			Help: "Number of operations currently executing a handler",
		},
		[]string{"kind"},
	)
	OperationsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_completed_total",
			Help: "Total number of operations completed",
		},
		[]string{"kind"},
	)
	OperationsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_failed_total",
			Help: "Total number of operations failed",
		},
		[]string{"kind"},
	)
	OperationsRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_requeued_total",
			Help: "Total number of operations requeued because the agent was busy",
		},
		[]string{"kind"},
	)
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 900},
		},
		[]string{"kind", "outcome"},
	)

	PreemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preemptions_total",
			Help: "Total number of scheduled syncs preempted by a write operation",
		},
		[]string{"preempted_kind"},
	)
	PreemptionWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "preemption_wait_duration_seconds",
			Help:    "Time spent waiting for a preempted sync to release the agent",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"acquired"},
	)

	AgentLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_locks_held",
			Help: "Number of agents currently executing an operation",
		},
	)

	BroadcastEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Total number of events published to subscribers",
		},
		[]string{"type"},
	)
	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Total number of events dropped because a subscriber buffer was full",
		},
	)

	BrowserSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_sessions_active",
			Help: "Number of open browser sessions in the pool",
		},
	)
	BrowserLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_logins_total",
			Help: "Total number of browser session logins by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(OperationsEnqueuedTotal)
	prometheus.MustRegister(OperationsProcessing)
	prometheus.MustRegister(OperationsCompletedTotal)
	prometheus.MustRegister(OperationsFailedTotal)
	prometheus.MustRegister(OperationsRequeuedTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(PreemptionsTotal)
	prometheus.MustRegister(PreemptionWaitDuration)
	prometheus.MustRegister(AgentLocksHeld)
	prometheus.MustRegister(BroadcastEventsTotal)
	prometheus.MustRegister(BroadcastDroppedTotal)
	prometheus.MustRegister(BrowserSessionsActive)
	prometheus.MustRegister(BrowserLoginsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueOperation(kind string) {
	OperationsEnqueuedTotal.WithLabelValues(kind).Inc()
}

func StartOperation(kind string) {
	OperationsProcessing.WithLabelValues(kind).Inc()
}

func CompleteOperation(kind string, elapsed time.Duration) {
	OperationsProcessing.WithLabelValues(kind).Dec()
	OperationsCompletedTotal.WithLabelValues(kind).Inc()
	OperationDuration.WithLabelValues(kind, "completed").Observe(elapsed.Seconds())
}

func FailOperation(kind string, elapsed time.Duration) {
	OperationsProcessing.WithLabelValues(kind).Dec()
	OperationsFailedTotal.WithLabelValues(kind).Inc()
	OperationDuration.WithLabelValues(kind, "failed").Observe(elapsed.Seconds())
}

func RequeueOperation(kind string) {
	OperationsRequeuedTotal.WithLabelValues(kind).Inc()
}

func PreemptOperation(preemptedKind string) {
	PreemptionsTotal.WithLabelValues(preemptedKind).Inc()
}

func ObservePreemptionWait(waited time.Duration, acquired bool) {
	PreemptionWaitDuration.WithLabelValues(strconv.FormatBool(acquired)).Observe(waited.Seconds())
}

func IncAgentLocks() { AgentLocksHeld.Inc() }
func DecAgentLocks() { AgentLocksHeld.Dec() }

func PublishEvent(eventType string) {
	BroadcastEventsTotal.WithLabelValues(eventType).Inc()
}

func DropEvent() {
	BroadcastDroppedTotal.Inc()
}

func OpenBrowserSession()  { BrowserSessionsActive.Inc() }
func CloseBrowserSession() { BrowserSessionsActive.Dec() }

func BrowserLogin(result string) {
	BrowserLoginsTotal.WithLabelValues(result).Inc()
}
