package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gvirila/portal/kit"
)

// RequestIDHeader may carry a trace id set by a proxy in front of the API.
const RequestIDHeader = "X-Request-ID"

var validTraceID = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// TraceID gives every request a trace id, reusing a well-formed
// X-Request-ID when one arrives. The id and the client IP are put in the
// context and a logger carrying both is stored under LoggerKey. Each
// request is logged once it completes, with status and latency.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(RequestIDHeader)
		if !validTraceID.MatchString(traceID) {
			traceID = newTraceID()
		}
		ip := ExtractIP(r)
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With("trace_id", traceID, "ip", ip)
		ctx := kit.WithClientIP(kit.WithTraceID(r.Context(), traceID), ip)
		ctx = context.WithValue(ctx, LoggerKey, logger)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func newTraceID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// GetLogger returns the request logger from ctx, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
