// Package shield provides the HTTP middleware shared by every portal route:
// security headers, body limits, request tracing, maintenance mode, HEAD
// handling and rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	stack, mm, el := shield.DefaultStack(db, store)
//	mm.StartReloader(done)
//	el.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
//
// The fixed-window Limiter is also used directly by handlers that need a
// custom key, such as the demo chat (client IP + bot id).
package shield

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware stack, ordered:
// Maintenance → HeadToGet → SecurityHeaders → MaxFormBody → TraceID →
// EndpointLimiter. /healthz bypasses both maintenance and rate limiting;
// maintenanceBypass prefixes stay reachable during maintenance only. The
// MaintenanceMode and EndpointLimiter handles are returned so callers can
// start their reloaders.
func DefaultStack(db *sql.DB, store Store, maintenanceBypass ...string) ([]func(http.Handler) http.Handler, *MaintenanceMode, *EndpointLimiter) {
	mm := NewMaintenanceMode(db, append([]string{"/healthz"}, maintenanceBypass...)...)
	el := NewEndpointLimiter(db, store, "/healthz")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
		el.Middleware,
	}, mm, el
}

// ErrorBody is the JSON shape of every error response served by the portal.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: msg, Code: code})
}
