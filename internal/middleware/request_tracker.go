package middleware

import (
	"context"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestTracker writes one structured access log line per request.
type RequestTracker struct {
	logger zerolog.Logger
}

// NewRequestTracker creates a request tracker logging through logger.
func NewRequestTracker(logger zerolog.Logger) *RequestTracker {
	return &RequestTracker{logger: logger.With().Str("component", "http").Logger()}
}

// Middleware returns an HTTP middleware that logs request metrics
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &userRecorder{}
			r = r.WithContext(context.WithValue(r.Context(), userRecorderKey{}, rec))

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			requestSizeBytes := r.ContentLength
			if requestSizeBytes < 0 {
				requestSizeBytes = 0
			}

			var event *zerolog.Event
			switch {
			case rw.statusCode >= 500:
				event = rt.logger.Error()
			case rw.statusCode >= 400:
				event = rt.logger.Warn()
			default:
				event = rt.logger.Info()
			}

			if rec.userID != "" {
				event = event.Str("user_id", rec.userID)
			}

			event.
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", rw.statusCode).
				Int64("request_bytes", requestSizeBytes).
				Int("response_bytes", rw.size).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// AccessLog is the tracker bound to the global logger.
func AccessLog(next http.Handler) http.Handler {
	return NewRequestTracker(log.Logger).Middleware()(next)
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
