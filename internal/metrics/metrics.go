package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheRequestsTotal counts topic cache lookups by content type and result.
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_cache_requests_total",
			Help: "Topic cache lookups by content type and result (hit, miss, expired, corrupt).",
		},
		[]string{"type", "result"},
	)

	// BlobOpsTotal counts blob store operations by op and outcome.
	BlobOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_blob_operations_total",
			Help: "Blob store operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// CoalescedRequestsTotal counts generation calls that ran (leader)
	// versus calls that joined an in-flight generation (shared).
	CoalescedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_coalesced_requests_total",
			Help: "Generation requests by kind and role (leader, shared).",
		},
		[]string{"kind", "role"},
	)

	// FallbacksTotal counts fallback substitutions per pipeline stage.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_fallbacks_total",
			Help: "Fallback content substitutions by kind and stage.",
		},
		[]string{"kind", "stage"},
	)

	// SandboxExecutionsTotal counts sandbox runs by result.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_sandbox_executions_total",
			Help: "Sandbox executions by result (success, failure, timeout).",
		},
		[]string{"result"},
	)

	// TTSRequestsTotal counts speech and translation calls by result.
	TTSRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_tts_requests_total",
			Help: "TTS and translation requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	// GenerationSeconds observes end-to-end generation latency.
	GenerationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessongate_generation_seconds",
			Help:    "Content generation latency in seconds by kind.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// HTTPLatencySeconds observes HTTP request latency.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessongate_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheRequestsTotal,
			BlobOpsTotal,
			CoalescedRequestsTotal,
			FallbacksTotal,
			SandboxExecutionsTotal,
			TTSRequestsTotal,
			GenerationSeconds,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request. The chi route pattern
// is used as the path label so URL params don't explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
