package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/kit"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestEventLogger_RecordAndRecent(t *testing.T) {
	db := setupObsDB(t)
	l := NewEventLogger(db)

	ctx := kit.WithClientIP(kit.WithTraceID(context.Background(), "abcd1234"), "203.0.113.9")
	l.Record(ctx, Event{
		Type:       EventPurchaseCreated,
		EntityType: "purchase",
		EntityID:   "pur_1",
		Details:    map[string]any{"price": 15.0},
		Success:    true,
	})
	l.Record(context.Background(), Event{Type: EventInjectionBlocked, EntityType: "bot", EntityID: "b1"})

	all, err := l.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}

	purchases, _ := l.Recent(context.Background(), EventPurchaseCreated, 10)
	if len(purchases) != 1 {
		t.Fatalf("got %d purchase events", len(purchases))
	}
	ev := purchases[0]
	if ev.TraceID != "abcd1234" || ev.ClientIP != "203.0.113.9" || !ev.Success {
		t.Errorf("event context not captured: %+v", ev)
	}
	if ev.Details["price"] != 15.0 {
		t.Errorf("details = %v", ev.Details)
	}
}

func TestEventLogger_FailureDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t) // no schema
	NewEventLogger(db).Record(context.Background(), Event{Type: "x"})
}

func TestEventLogger_Counts(t *testing.T) {
	l := NewEventLogger(setupObsDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Record(ctx, Event{Type: EventDemoRateLimited})
	}
	l.Record(ctx, Event{Type: EventPurchaseCompleted, Success: true})

	counts, err := l.Counts(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if counts[EventDemoRateLimited] != 3 || counts[EventPurchaseCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMetricsManager_FlushOnClose(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Observe(MetricLLMLatencyMs, 420, "ms", map[string]string{"bot": "b1"})
	mm.Observe(MetricDemoMessages, 1, "count", nil)
	mm.Close()

	got, err := mm.Query(context.Background(), MetricLLMLatencyMs, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 420 || got[0].Labels["bot"] != "b1" {
		t.Fatalf("metrics = %+v", got)
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.Observe("a", 1, "", nil)
	mm.Observe("b", 2, "", nil)

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestCleanup(t *testing.T) {
	db := setupObsDB(t)
	old := time.Now().AddDate(0, 0, -40).UnixMilli()
	db.Exec(`INSERT INTO business_event_logs (event_id, event_type, created_at) VALUES ('old', 'x', ?)`, old)
	db.Exec(`INSERT INTO business_event_logs (event_id, event_type, created_at) VALUES ('new', 'x', ?)`, time.Now().UnixMilli())
	db.Exec(`INSERT INTO metrics_timeseries (metric_name, timestamp, value) VALUES ('m', ?, 1)`, old)

	if err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 30}); err != nil {
		t.Fatal(err)
	}
	var events, metrics int
	db.QueryRow(`SELECT COUNT(*) FROM business_event_logs`).Scan(&events)
	db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&metrics)
	if events != 1 {
		t.Errorf("events = %d, want 1", events)
	}
	if metrics != 1 {
		t.Errorf("metrics = %d, want 1 (no retention set)", metrics)
	}
}
