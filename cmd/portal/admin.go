package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/shield"
)

// metricsReader is implemented by *observability.MetricsManager.
type metricsReader interface {
	Query(ctx context.Context, name string, since time.Time, limit int) ([]*observability.Metric, error)
}

// sinceParam reads ?since as a positive duration, def when absent.
func sinceParam(r *http.Request, def time.Duration) (time.Duration, bool) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return def, true
	}
	d, err := time.ParseDuration(v)
	return d, err == nil && d > 0
}

// opsRoutes mounts the operator endpoints: business events and their
// counts, stored metrics and the maintenance switch.
func (a *app) opsRoutes(r chi.Router) {
	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := a.events.Recent(r.Context(), r.URL.Query().Get("type"), limit)
		if err != nil {
			shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	r.Get("/events/counts", func(w http.ResponseWriter, r *http.Request) {
		since, ok := sinceParam(r, 24*time.Hour)
		if !ok {
			shield.WriteError(w, http.StatusBadRequest, "invalid_request", "since must be a positive duration such as 24h")
			return
		}
		counts, err := a.events.Counts(r.Context(), time.Now().Add(-since))
		if err != nil {
			shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, counts)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		mr, ok := a.metrics.(metricsReader)
		if !ok {
			shield.WriteError(w, http.StatusServiceUnavailable, "metrics_disabled", "metrics are not persisted")
			return
		}
		since, ok := sinceParam(r, time.Hour)
		if !ok {
			shield.WriteError(w, http.StatusBadRequest, "invalid_request", "since must be a positive duration such as 1h")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 200
		}
		list, err := mr.Query(r.Context(), r.URL.Query().Get("name"), time.Now().Add(-since), limit)
		if err != nil {
			shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	r.Get("/maintenance", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"active": a.mm.Active(), "message": a.mm.Message()})
	})

	r.Put("/maintenance", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Active  bool   `json:"active"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := a.mm.Set(body.Active, body.Message); err != nil {
			shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		shield.GetLogger(r.Context()).Info("maintenance mode changed", "active", body.Active)
		writeJSON(w, http.StatusOK, map[string]any{"active": a.mm.Active(), "message": a.mm.Message()})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
