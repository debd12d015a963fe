package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superadmin_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "superadmin_lockouts_total",
		Help: "Accounts transitioned into the locked state.",
	})

	auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superadmin_audit_events_total",
			Help: "Audit entries recorded by action and success flag.",
		},
		[]string{"action", "success"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "superadmin_audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "superadmin_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginAttempts, lockouts, auditEvents, auditWriteFailures, ready,
		buildInfo,
	)
}

// Registry exposes the service registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// ObserveLogin counts a login attempt by outcome (success, invalid, locked, error).
func ObserveLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// IncLockout counts an account transitioning into the locked state.
func IncLockout() { lockouts.Inc() }

// ObserveAudit counts a recorded audit entry.
func ObserveAudit(action string, success bool) {
	auditEvents.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

// IncAuditFailure counts an audit entry that failed to persist.
func IncAuditFailure() { auditWriteFailures.Inc() }

// SetReady records the result of the last readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument wraps next with request counters, latency and in-flight tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// OtherPath labels every request outside the known routes.
const OtherPath = "other"

var staticPaths = map[string]bool{
	"/healthz":              true,
	"/readyz":               true,
	"/metrics":              true,
	"/auth/login":           true,
	"/auth/logout":          true,
	"/auth/me":              true,
	"/auth/change-password": true,
	"/v1/catalog":           true,
	"/v1/superadmins":       true,
	"/v1/audit-logs":        true,
}

// CanonicalPath collapses identifiers in known routes and maps everything else to
// OtherPath, so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if staticPaths[p] {
		return p
	}
	const prefix = "/v1/superadmins/"
	if !strings.HasPrefix(p, prefix) {
		return OtherPath
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(p, prefix), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return prefix + ":id"
	case len(parts) == 2 && (parts[1] == "permissions" || parts[1] == "unlock" || parts[1] == "deactivate"):
		return prefix + ":id/" + parts[1]
	case len(parts) == 3 && parts[1] == "permissions":
		return prefix + ":id/permissions/:permission"
	}
	return OtherPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
