package shield

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/kit"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "198.51.100.7:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEndpointLimiter(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES ('POST /api/comments', 2, 60, 1)`)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES ('GET /api/off', 1, 60, 0)`)

	el := NewEndpointLimiter(db, NewMemoryStore(), "/healthz")
	h := el.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		if w := serve(h, "POST", "/api/comments"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i+1, w.Code)
		}
	}

	w := serve(h, "POST", "/api/comments")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", w.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "rate_limited" || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}

	// Disabled rule, unknown endpoint and excluded prefix pass.
	for _, path := range []string{"/api/off", "/api/other", "/healthz"} {
		for i := 0; i < 3; i++ {
			if w := serve(h, "GET", path); w.Code != http.StatusOK {
				t.Fatalf("%s: got %d", path, w.Code)
			}
		}
	}
}

func TestEndpointLimiter_Reload(t *testing.T) {
	db := setupDB(t)
	el := NewEndpointLimiter(db, NewMemoryStore())
	if _, ok := el.rule("GET /api/x"); ok {
		t.Fatal("rule present before insert")
	}
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES ('GET /api/x', 5, 10)`)
	el.reload()
	r, ok := el.rule("GET /api/x")
	if !ok || r.MaxRequests != 5 || r.WindowSeconds != 10 {
		t.Fatalf("rule after reload = %+v, %v", r, ok)
	}
}

func TestMaintenance_Off(t *testing.T) {
	mm := NewMaintenanceMode(setupDB(t))
	if w := serve(mm.Middleware(okHandler()), "GET", "/api/posts"); w.Code != http.StatusOK {
		t.Errorf("expected 200 when maintenance off, got %d", w.Code)
	}
}

func TestMaintenance_On(t *testing.T) {
	db := setupDB(t)
	mm := NewMaintenanceMode(db, "/healthz")
	if err := mm.Set(true, "განახლება"); err != nil {
		t.Fatal(err)
	}
	h := mm.Middleware(okHandler())

	w := serve(h, "GET", "/api/posts")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body ErrorBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != "maintenance" || body.Error != "განახლება" {
		t.Errorf("body = %+v", body)
	}
	if ra := w.Header().Get("Retry-After"); ra != "300" {
		t.Errorf("Retry-After = %q, want 300", ra)
	}

	w = serve(h, "GET", "/")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "განახლება") {
		t.Errorf("non-API path: %d %q", w.Code, w.Body.String())
	}

	if w := serve(h, "GET", "/healthz"); w.Code != http.StatusOK {
		t.Errorf("/healthz should bypass maintenance, got %d", w.Code)
	}
}

func TestMaintenance_SetKeepsMessage(t *testing.T) {
	db := setupDB(t)
	mm := NewMaintenanceMode(db)
	mm.Set(true, "პირველი")
	mm.Set(false, "")
	if mm.Active() {
		t.Fatal("expected off")
	}
	mm.Set(true, "")
	if mm.Message() != "პირველი" {
		t.Errorf("message = %q, want kept", mm.Message())
	}
}

func TestMaintenance_NoTable(t *testing.T) {
	mm := NewMaintenanceMode(dbopen.OpenMemory(t))
	if mm.Active() {
		t.Fatal("expected maintenance off when table missing")
	}
	if mm.Message() == "" {
		t.Error("default message missing")
	}
}

func TestDefaultStack_SecurityHeaders(t *testing.T) {
	// WHAT: Responses carry the security headers and an 8-hex-char trace id.
	stack, _, _ := DefaultStack(setupDB(t), NewMemoryStore())
	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})

	w := serve(r, "GET", "/test")
	checks := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, expected := range checks {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s: got %q, want %q", header, got, expected)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS on plain HTTP: %q", got)
	}
	if id := w.Header().Get("X-Trace-ID"); len(id) != 8 {
		t.Errorf("X-Trace-ID: got %q, want 8 hex chars", id)
	}

	// HEAD is served by the GET route.
	if w := serve(r, "HEAD", "/test"); w.Code != http.StatusOK {
		t.Errorf("HEAD: got %d", w.Code)
	}
}

func TestTraceID_Context(t *testing.T) {
	var traceID, ip string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		ip = kit.GetClientIP(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("nil logger")
		}
	}))
	w := serve(h, "GET", "/")
	if traceID == "" || traceID != w.Header().Get("X-Trace-ID") {
		t.Errorf("trace id %q, header %q", traceID, w.Header().Get("X-Trace-ID"))
	}
	if ip != "198.51.100.7" {
		t.Errorf("client ip = %q", ip)
	}
}

func TestTraceID_ReusesRequestID(t *testing.T) {
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "edge-1234abcd")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "edge-1234abcd" {
		t.Errorf("trace id = %q, want the proxy's request id", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); len(got) != 8 {
		t.Errorf("malformed request id was kept: %q", got)
	}
}

func TestMaxFormBody_JSON(t *testing.T) {
	var readErr error
	h := MaxFormBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest("POST", "/api/x", strings.NewReader(`{"message":"`+strings.Repeat("a", 64)+`"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatal("expected read error past the limit")
	}
}

func TestDefaultStack(t *testing.T) {
	db := setupDB(t)
	stack, mm, el := DefaultStack(db, NewMemoryStore())
	if len(stack) != 6 || mm == nil || el == nil {
		t.Fatalf("DefaultStack: %d middlewares", len(stack))
	}
}

func TestDefaultStack_LoginThrottled(t *testing.T) {
	// WHAT: the seeded rule caps login attempts even though /api/auth/
	// bypasses maintenance.
	stack, _, _ := DefaultStack(setupDB(t), NewMemoryStore(), "/api/auth/")
	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {})

	var last int
	for i := 0; i < 11; i++ {
		last = serve(r, "POST", "/api/auth/login").Code
		if i < 10 && last != http.StatusOK {
			t.Fatalf("attempt %d: got %d", i+1, last)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("11th attempt: got %d, want 429", last)
	}
}
