package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orgauth"

// Recorder owns every orgauth collector.
type Recorder struct {
	permissionChecks *prometheus.CounterVec
	policyDenials    *prometheus.CounterVec
	signIns          *prometheus.CounterVec
	sessions         *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	validateLatency  prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	reg              prometheus.Registerer
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		reg: reg,
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Permission checks by result and reason.",
		}, []string{"result", "reason"}),
		policyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Dynamic policy denials by stage.",
		}, []string{"stage"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_total",
			Help:      "Sign-in attempts by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle transitions.",
		}, []string{"event"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Permission cache lookups by slice and result.",
		}, []string{"slice", "result"}),
		validateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validate_latency_seconds",
			Help:      "Session validation latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		r.permissionChecks, r.policyDenials, r.signIns, r.sessions,
		r.cacheRequests, r.validateLatency, r.httpRequests, r.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// WatchAuditDrops exposes orgauth_audit_dropped_total from a live counter.
func (r *Recorder) WatchAuditDrops(dropped func() uint64) error {
	if r == nil || dropped == nil {
		return nil
	}
	return r.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Audit events dropped because the dispatcher queue was full.",
	}, func() float64 { return float64(dropped()) }))
}

func (r *Recorder) ObservePermissionCheck(allowed bool, reason string) {
	if r == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	r.permissionChecks.WithLabelValues(result, reason).Inc()
}

func (r *Recorder) ObservePolicyDenial(stage string) {
	if r == nil {
		return
	}
	r.policyDenials.WithLabelValues(stage).Inc()
}

func (r *Recorder) ObserveSignIn(outcome string) {
	if r == nil {
		return
	}
	r.signIns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveSessions(event string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.sessions.WithLabelValues(event).Add(float64(n))
}

func (r *Recorder) ObserveCache(slice string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheRequests.WithLabelValues(slice, result).Inc()
}

func (r *Recorder) ObserveValidate(d time.Duration) {
	if r == nil {
		return
	}
	r.validateLatency.Observe(d.Seconds())
}

// Instrument records request counts and latency. route names the matched
// pattern, never the raw path.
func (r *Recorder) Instrument(route string, next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, req)

		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
