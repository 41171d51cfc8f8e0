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
	initOnce sync.Once

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

	authOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_auth_operations_total",
			Help: "Authentication workflow operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	keysGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_keys_generated_total",
		Help: "RSA signing key pairs generated by this process.",
	})
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authOperations, keysGenerated)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts one workflow operation with its result code, or "ok".
func ObserveAuth(operation, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	authOperations.WithLabelValues(operation, outcome).Inc()
}

// KeyGenerated counts a freshly generated signing key pair.
func KeyGenerated() {
	keysGenerated.Inc()
}

var knownPaths = map[string]struct{}{
	"/":                       {},
	"/api/auth/register":      {},
	"/api/auth/login":         {},
	"/api/auth/refresh-token": {},
	"/api/auth/me":            {},
	"/api/jwks/publish-key":   {},
	"/.well-known/jwks.json":  {},
	"/api/health":             {},
	"/healthz":                {},
	"/readyz":                 {},
	"/metrics":                {},
}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// Instrument records request count, latency and in-flight gauge.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
