package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	signInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sign_in_total",
			Help: "Sign-in attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	refreshReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_total",
		Help: "Refresh tokens presented after rotation; each one revokes a lineage.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			signInTotal, refreshTotal, refreshReuseTotal, ready)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSignIn counts a sign-in attempt; outcome is "success", "rejected" or "error".
func ObserveSignIn(outcome string) {
	signInTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefresh counts a rotation attempt by outcome.
func ObserveRefresh(outcome string) {
	refreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefreshReuse counts a detected replay.
func ObserveRefreshReuse() {
	refreshReuseTotal.Inc()
}

// SetReady records the readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures RPS, latency and in-flight requests.
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

var knownPaths = map[string]struct{}{
	"/healthz":                            {},
	"/readyz":                             {},
	"/metrics":                            {},
	"/v1/info":                            {},
	"/account/login-to-company-workspace": {},
	"/account/refresh-token":              {},
	"/account/sign-up":                    {},
	"/account/is-invite-valid":            {},
	"/account/invite":                     {},
	"/account/accept-invite":              {},
	"/account/get-authorized":             {},
	"/account/update-profile":             {},
	"/account/sign-out":                   {},
	"/account/update-allowance-timeoff":   {},
}

// CanonicalPath bounds label cardinality: unknown paths collapse into "other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
