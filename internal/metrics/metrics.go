// Package metrics defines custom Prometheus metrics for s3pipe.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request and part size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3pipe_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3pipe_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3pipe_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Transfer metrics.
var (
	// TransfersTotal counts finished transfers by variant and outcome
	// ("completed", "failed", "init_failed").
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3pipe_transfers_total",
			Help: "Finished transfers by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	// TransfersActive is a gauge of transfers between Start and Stop.
	TransfersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3pipe_transfers_active",
			Help: "Transfers currently running",
		},
	)

	// PartsTotal counts part transfers by variant and status.
	PartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3pipe_parts_total",
			Help: "Part transfers by variant and status",
		},
		[]string{"variant", "status"},
	)

	// PartDuration observes how long a single part transfer blocks.
	PartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3pipe_part_duration_seconds",
			Help:    "Part transfer latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"variant"},
	)

	// PartSize observes the size of transferred parts.
	PartSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3pipe_part_size_bytes",
			Help:    "Transferred part size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"variant"},
	)

	// BytesTransferredTotal counts bytes accepted by backends.
	BytesTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3pipe_bytes_transferred_total",
			Help: "Total bytes handed to storage backends",
		},
		[]string{"variant"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			TransfersTotal,
			TransfersActive,
			PartsTotal,
			PartDuration,
			PartSize,
			BytesTransferredTotal,
		)
		// Initialize the transfer counters so they appear in /metrics output
		// before the first transfer finishes.
		for _, v := range []string{"direct", "multipart", "stream"} {
			TransfersTotal.WithLabelValues(v, "completed")
			TransfersTotal.WithLabelValues(v, "failed")
		}
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual bucket/object names.
func NormalizePath(path string) string {
	// Known fixed paths.
	switch path {
	case "/health", "/metrics", "/transfers", "/openapi.json":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/transfers/") {
		return "/transfers/{id}"
	}

	rest, ok := strings.CutPrefix(path, "/streams/")
	if !ok {
		return "/other"
	}
	bucket, key, _ := strings.Cut(rest, "/")
	switch {
	case bucket == "":
		return "/streams"
	case key == "":
		return "/streams/{bucket}"
	default:
		return "/streams/{bucket}/{key}"
	}
}
