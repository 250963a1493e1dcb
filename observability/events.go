// Package observability records portal business events (purchases, blocked
// prompt injections, rate-limit refusals) and timeseries metrics in SQLite.
//
// Writes are best effort: a failing insert is logged through slog and never
// reaches the caller.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gvirila/portal/idgen"
	"github.com/gvirila/portal/kit"
)

// Event types.
const (
	EventPurchaseCreated    = "purchase.created"
	EventPurchaseCompleted  = "purchase.completed"
	EventPromptAccessed     = "prompt.accessed"
	EventInjectionBlocked   = "demo.injection_blocked"
	EventDemoRateLimited    = "demo.rate_limited"
	EventDemoLimitReached   = "demo.limit_reached"
	EventCommentSubmitted   = "comment.submitted"
	EventFeedImported       = "blog.feed_imported"
	EventNotificationFailed = "notification.failed"
)

// Event is one business event. Details is marshalled to JSON.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Success    bool           `json:"success"`
	CreatedAt  int64          `json:"created_at"`
}

// Recorder is what services depend on; *EventLogger and Discard implement it.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// Discard drops every event.
var Discard Recorder = discard{}

// EventLogger writes events to business_event_logs.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// NewEventLogger returns a logger writing to db, which must have Schema
// applied.
func NewEventLogger(db *sql.DB) *EventLogger {
	return &EventLogger{db: db, newID: idgen.Prefixed("evt_", idgen.Default), now: time.Now}
}

// Record stores ev. User, client IP and trace id are filled from ctx when
// unset.
func (l *EventLogger) Record(ctx context.Context, ev Event) {
	if ev.UserID == "" {
		ev.UserID = kit.GetUserID(ctx)
	}
	if ev.ClientIP == "" {
		if ip := kit.GetClientIP(ctx); ip != "unknown" {
			ev.ClientIP = ip
		}
	}
	if ev.TraceID == "" {
		ev.TraceID = kit.GetTraceID(ctx)
	}

	var details sql.NullString
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}

	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO business_event_logs (
			event_id, event_type, entity_type, entity_id, user_id,
			client_ip, trace_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Type, ev.EntityType, ev.EntityID, ev.UserID,
		ev.ClientIP, ev.TraceID, details, ev.Success, l.now().UnixMilli())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", ev.Type)
	}
}

// Recent returns the newest events, optionally filtered by type.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT event_id, event_type, COALESCE(entity_type,''), COALESCE(entity_id,''),
		COALESCE(user_id,''), COALESCE(client_ip,''), COALESCE(trace_id,''), details, success, created_at
		FROM business_event_logs`
	args := []any{}
	if eventType != "" {
		q += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: recent events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var details sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.EntityType, &ev.EntityID, &ev.UserID,
			&ev.ClientIP, &ev.TraceID, &details, &ev.Success, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			json.Unmarshal([]byte(details.String), &ev.Details)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Counts returns the number of events per type since the given time.
func (l *EventLogger) Counts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM business_event_logs WHERE created_at >= ? GROUP BY event_type`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// RetentionConfig is the per-table retention in days. Zero keeps forever.
type RetentionConfig struct {
	EventLogsDays  int
	MetricsDays    int
	RunVacuumAfter bool
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()
	targets := []struct {
		query string
		days  int
	}{
		{`DELETE FROM business_event_logs WHERE created_at < ?`, cfg.EventLogsDays},
		{`DELETE FROM metrics_timeseries WHERE timestamp < ?`, cfg.MetricsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).UnixMilli()
		if _, err := db.ExecContext(ctx, t.query, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
