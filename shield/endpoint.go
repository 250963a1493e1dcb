package shield

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Rule is the rate limit for one endpoint ("METHOD /path").
type Rule struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

// EndpointLimiter enforces per-IP, per-endpoint limits read from the
// rate_limits table. Endpoints without an enabled rule are not limited.
// Rules are reloaded by StartReloader.
type EndpointLimiter struct {
	db      *sql.DB
	store   Store
	exclude []string

	mu    sync.RWMutex
	rules map[string]Rule
}

// NewEndpointLimiter loads the rules from db and counts hits in store.
// Paths matching any of excludePrefixes are never limited.
func NewEndpointLimiter(db *sql.DB, store Store, excludePrefixes ...string) *EndpointLimiter {
	el := &EndpointLimiter{
		db:      db,
		store:   store,
		exclude: excludePrefixes,
		rules:   make(map[string]Rule),
	}
	el.reload()
	return el
}

// StartReloader refreshes the rules every minute until done is closed.
func (el *EndpointLimiter) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				el.reload()
			}
		}
	}()
}

func (el *EndpointLimiter) reload() {
	rows, err := el.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		slog.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	rules := make(map[string]Rule)
	for rows.Next() {
		var endpoint string
		var rule Rule
		var enabled int
		if err := rows.Scan(&endpoint, &rule.MaxRequests, &rule.WindowSeconds, &enabled); err != nil {
			continue
		}
		rule.Enabled = enabled == 1
		rules[endpoint] = rule
	}

	el.mu.Lock()
	el.rules = rules
	el.mu.Unlock()

	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
}

func (el *EndpointLimiter) rule(endpoint string) (Rule, bool) {
	el.mu.RLock()
	defer el.mu.RUnlock()
	r, ok := el.rules[endpoint]
	return r, ok && r.Enabled && r.MaxRequests > 0 && r.WindowSeconds > 0
}

// Middleware enforces the rules. Refused /api/ requests get a 429 JSON
// body; other paths a plain 429.
func (el *EndpointLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range el.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		rule, ok := el.rule(endpoint)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := ExtractIP(r)
		count, resetAt, err := el.store.Hit(r.Context(), "ep:"+ip+":"+endpoint, time.Duration(rule.WindowSeconds)*time.Second)
		if err != nil {
			// Fail open.
			GetLogger(r.Context()).Warn("ratelimit: store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		d := decide(count, rule.MaxRequests, resetAt)
		d.SetHeaders(w)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		if strings.HasPrefix(r.URL.Path, "/api/") {
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "ძალიან ბევრი მოთხოვნა, სცადეთ მოგვიანებით")
			return
		}
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}
