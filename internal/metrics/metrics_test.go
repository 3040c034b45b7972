package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/transfers", "/transfers"},
		{"/transfers/0b9c", "/transfers/{id}"},
		{"/openapi.json", "/openapi.json"},
		{"/docs", "/docs"},
		{"/docs/", "/docs"},
		{"/docs/something", "/docs"},
		{"/", "/"},
		{"", "/"},
		{"/streams/", "/streams"},
		{"/streams/my-bucket", "/streams/{bucket}"},
		{"/streams/my-bucket/", "/streams/{bucket}"}, // trailing slash, no key
		{"/streams/my-bucket/my-key", "/streams/{bucket}/{key}"},
		{"/streams/my-bucket/path/to/object", "/streams/{bucket}/{key}"},
		{"/wp-admin/login.php", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsRegistered(t *testing.T) {
	Register()
	Register()

	// Verify that calling Inc/Set on metrics does not panic.
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.001)
	HTTPRequestSize.WithLabelValues("PUT", "/streams/{bucket}/{key}").Observe(1024)
	TransfersActive.Set(0)
	PartDuration.WithLabelValues("multipart").Observe(0.2)
	PartSize.WithLabelValues("multipart").Observe(5 << 20)

	if got := testutil.ToFloat64(TransfersTotal.WithLabelValues("stream", "completed")); got != 0 {
		t.Errorf("pre-initialized counter = %v, want 0", got)
	}
}

func TestTransferCounters(t *testing.T) {
	before := testutil.ToFloat64(PartsTotal.WithLabelValues("direct", "success"))
	PartsTotal.WithLabelValues("direct", "success").Inc()
	PartsTotal.WithLabelValues("direct", "success").Inc()
	if got := testutil.ToFloat64(PartsTotal.WithLabelValues("direct", "success")); got != before+2 {
		t.Errorf("parts counter = %v, want %v", got, before+2)
	}

	bytesBefore := testutil.ToFloat64(BytesTransferredTotal.WithLabelValues("direct"))
	BytesTransferredTotal.WithLabelValues("direct").Add(4096)
	if got := testutil.ToFloat64(BytesTransferredTotal.WithLabelValues("direct")); got != bytesBefore+4096 {
		t.Errorf("bytes counter = %v, want %v", got, bytesBefore+4096)
	}
}
