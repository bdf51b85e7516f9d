package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument logs and measures every request except the probe endpoints.
func instrument(next http.Handler, m *metrics.Metrics, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		endpoint := normalizeEndpoint(r.URL.Path)
		if m != nil {
			m.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		}
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

// normalizeEndpoint collapses per-job paths so metric label cardinality
// stays bounded.
func normalizeEndpoint(path string) string {
	if strings.HasPrefix(path, "/api/creations/") && path != "/api/creations/create" {
		return "/api/creations/{id}"
	}
	return path
}
