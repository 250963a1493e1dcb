package shield

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultMaintenanceMessage = "მიმდინარეობს ტექნიკური სამუშაოები, გთხოვთ მოიცადოთ."

// MaintenanceMode answers 503 while the maintenance row (id=1) is active.
// The flag is cached in memory and refreshed by StartReloader; a missing
// table or row means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string
}

// NewMaintenanceMode reads the current flag from db. Paths matching any of
// excludePrefixes are never blocked.
func NewMaintenanceMode(db *sql.DB, excludePrefixes ...string) *MaintenanceMode {
	m := &MaintenanceMode{db: db, exclude: excludePrefixes}
	m.message.Store(defaultMaintenanceMessage)
	m.reload()
	return m
}

// Active reports whether maintenance mode is on.
func (m *MaintenanceMode) Active() bool { return m.active.Load() }

// Message returns the text shown to clients during maintenance.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// Set turns maintenance on or off and persists the flag. An empty message
// keeps the stored one.
func (m *MaintenanceMode) Set(active bool, message string) error {
	on := 0
	if active {
		on = 1
	}
	_, err := m.db.Exec(`
		INSERT INTO maintenance (id, active, message) VALUES (1, ?, COALESCE(NULLIF(?, ''), ?))
		ON CONFLICT(id) DO UPDATE SET active = excluded.active,
			message = COALESCE(NULLIF(?, ''), maintenance.message)`,
		on, message, defaultMaintenanceMessage, message)
	if err != nil {
		return err
	}
	m.reload()
	return nil
}

// StartReloader re-reads the flag every 5 seconds until done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload()
			}
		}
	}()
}

func (m *MaintenanceMode) reload() {
	var active int
	var message string
	err := m.db.QueryRow(`SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		m.active.Store(false)
		return
	}

	was := m.active.Swap(active == 1)
	if message != "" {
		m.message.Store(message)
	}
	switch {
	case active == 1 && !was:
		slog.Warn("maintenance: enabled", "message", message)
	case active != 1 && was:
		slog.Info("maintenance: disabled")
	}
}

// Middleware blocks every non-excluded request with 503 while maintenance
// is on. /api/ paths get the JSON error body, others plain text.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Retry-After", "300")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			WriteError(w, http.StatusServiceUnavailable, "maintenance", m.Message())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(m.Message()))
	})
}
