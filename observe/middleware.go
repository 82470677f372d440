package observe

import (
	"net/http"
	"time"

	"github.com/RyanBlaney/sonido-ducker/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration to [Metrics.HTTPRequestDuration] and
// logs completion at debug level.
//
// Websocket upgrades need the raw writer to hijack the connection, so
// requests carrying an Upgrade header are timed but not wrapped.
func Middleware(m *Metrics, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var status int
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				status = http.StatusSwitchingProtocols
			} else {
				rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
				next.ServeHTTP(rec, r)
				status = rec.statusCode
			}

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(r.Context(), duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)

			logger.Debug("http request", logging.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": duration.Milliseconds(),
			})
		})
	}
}
