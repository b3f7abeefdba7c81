package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/errors"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cloudless",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudless",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudless",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	methodInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudless",
			Subsystem: "methods",
			Name:      "invocations_total",
			Help:      "Total number of method invocations by outcome.",
		},
		[]string{"method", "outcome"},
	)

	methodDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudless",
			Subsystem: "methods",
			Name:      "duration_seconds",
			Help:      "Duration of method invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method"},
	)

	methodRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudless",
			Subsystem: "methods",
			Name:      "rejections_total",
			Help:      "Invocations rejected before the handler ran.",
		},
		[]string{"method", "code"},
	)

	storageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudless",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage collaborator calls by collection, operation and result.",
		},
		[]string{"collection", "op", "success"},
	)

	storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudless",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage collaborator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"collection", "op"},
	)

	asyncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudless",
			Subsystem: "async",
			Name:      "tasks_total",
			Help:      "Deferred tasks run by name and result.",
		},
		[]string{"task", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		methodInvocations,
		methodDuration,
		methodRejections,
		storageOperations,
		storageDuration,
		asyncTasks,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// MethodObserver records terminal method transitions.
func MethodObserver() service.Observer {
	return service.ObserverFunc(func(_ context.Context, t service.Transition) {
		if !t.To.Terminal() {
			return
		}
		name := t.Method.FullName()
		methodInvocations.WithLabelValues(name, t.To.String()).Inc()
		if t.To == service.Rejected {
			code := "UNKNOWN"
			if se := errors.GetServiceError(t.Err); se != nil {
				code = string(se.Code)
			}
			methodRejections.WithLabelValues(name, code).Inc()
			return
		}
		methodDuration.WithLabelValues(name).Observe(t.Elapsed.Seconds())
	})
}

// RecordStorageOperation records one collaborator call.
func RecordStorageOperation(collection, op string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	storageOperations.WithLabelValues(collection, op, success).Inc()
	storageDuration.WithLabelValues(collection, op).Observe(duration.Seconds())
}

// RecordAsyncTask records a finished deferred task.
func RecordAsyncTask(task string, success bool) {
	if task == "" {
		task = "unknown"
	}
	asyncTasks.WithLabelValues(task, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses caller-controlled path segments so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	switch len(parts) {
	case 1:
		return "/api"
	case 2:
		return "/api/:service"
	default:
		return "/api/:service/:method"
	}
}
