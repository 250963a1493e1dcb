package shield

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Demo chat defaults: 10 requests per client and bot per hour.
const (
	DemoLimit  = 10
	DemoWindow = time.Hour
)

// Store counts hits in fixed windows. Hit increments the counter for key
// and returns the new count and the end of the current window. A key with
// no record, or whose window has elapsed, starts over at 1.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Decision is the outcome of one Limiter.Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the Retry-After value in whole seconds, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	s := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// SetHeaders writes the X-RateLimit-* headers, and Retry-After when the
// request was refused.
func (d Decision) SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfter(time.Now())))
	}
}

// Limiter is a fixed-window counter: at most limit hits per key per window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// NewLimiter returns a limiter backed by store.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Limit returns the configured number of hits per window.
func (l *Limiter) Limit() int { return l.limit }

// Allow records one hit for key. Refused hits are counted too; they never
// move the window's reset time.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("shield: rate limit %q: %w", key, err)
	}
	return decide(count, l.limit, resetAt), nil
}

func decide(count, limit int, resetAt time.Time) Decision {
	rem := limit - count
	if rem < 0 {
		rem = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: rem,
		ResetAt:   resetAt,
	}
}

// DemoKey is the limiter key for a demo chat client talking to one bot.
func DemoKey(ip, botID string) string {
	return "demo:" + ip + ":" + botID
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps windows in process memory. Counters are not shared
// between instances; use RedisStore when running more than one.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

// Hit implements Store.
func (m *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		m.buckets[key] = b
		return b.count, b.resetAt, nil
	}
	b.count++
	return b.count, b.resetAt, nil
}

// Len returns the number of tracked windows.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// StartGC removes expired windows every interval until done is closed.
func (m *MemoryStore) StartGC(done <-chan struct{}, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.gc()
			}
		}
	}()
}

func (m *MemoryStore) gc() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, b := range m.buckets {
		if !now.Before(b.resetAt) {
			delete(m.buckets, k)
		}
	}
}

// ExtractIP returns the client IP from the first X-Forwarded-For hop, or
// from RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
