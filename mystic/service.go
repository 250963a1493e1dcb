package mystic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gvirila/portal/content"
	"github.com/gvirila/portal/demochat"
	"github.com/gvirila/portal/llm"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/safe"
	"github.com/gvirila/portal/shield"
)

// Reading kinds.
const (
	KindTarot     = "tarot"
	KindHoroscope = "horoscope"
	KindFortune   = "fortune"
)

// MaxQuestionLen caps a reader's question, in characters.
const MaxQuestionLen = 500

const persona = `შენ ხარ "მისტიკა", გასართობი მკითხავი ქართულ პორტალზე.
წერე ქართულად, თბილად და ოდნავ იუმორით. დაიწყე სათაურით 🔮 ემოჯით,
შემდეგ დაყავი პასუხი სექციებად, თითოეული ემოჯით დაწყებული ხაზით.
არასოდეს მისცე სამედიცინო, იურიდიული ან ფინანსური რჩევა.
ყოველთვის დაასრულე შეხსენებით, რომ ეს გართობაა.`

var (
	ErrInvalidRequest = errors.New("mystic: invalid request")
	ErrRateLimited    = errors.New("mystic: rate limited")
	ErrUpstream       = errors.New("mystic: model unavailable")
)

// RateLimitError carries the limiter decision behind ErrRateLimited.
type RateLimitError struct {
	Decision shield.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("mystic: rate limited (%d/%d)", e.Decision.Count, e.Decision.Limit)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Reading is one answer. Blocked is set when the question was refused by
// the injection guard; Text then holds the refusal.
type Reading struct {
	Kind     string            `json:"kind"`
	Cards    []DrawnCard       `json:"cards,omitempty"`
	Sign     *Sign             `json:"sign,omitempty"`
	Date     string            `json:"date,omitempty"`
	Text     string            `json:"text"`
	Sections []content.Section `json:"sections"`
	Blocked  bool              `json:"blocked,omitempty"`
}

// Config wires a Service.
type Config struct {
	LLM     llm.Completer
	Limiter *shield.Limiter // nil = unlimited
	Guard   *demochat.Guard // nil = demochat.NewGuard()
	Events  observability.Recorder
	Metrics observability.Metrics
}

// Service produces readings.
type Service struct {
	llm     llm.Completer
	limiter *shield.Limiter
	guard   *demochat.Guard
	events  observability.Recorder
	metrics observability.Metrics
	intn    randIntn
	now     func() time.Time

	mu    sync.Mutex
	daily map[string]*Reading // "<sign>|<date>"
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	s := &Service{
		llm:     cfg.LLM,
		limiter: cfg.Limiter,
		guard:   cfg.Guard,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		intn:    cryptoIntn,
		now:     time.Now,
		daily:   make(map[string]*Reading),
	}
	if s.guard == nil {
		s.guard = demochat.NewGuard()
	}
	if s.events == nil {
		s.events = observability.Discard
	}
	if s.metrics == nil {
		s.metrics = observability.NopMetrics
	}
	return s
}

// Tarot draws a spread of cards (1, 3 or 5; 0 means 3) and has the model
// interpret it against the question.
func (s *Service) Tarot(ctx context.Context, clientIP, question string, cards int) (*Reading, error) {
	if cards == 0 {
		cards = 3
	}
	if _, ok := spreads[cards]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, ErrSpreadSize)
	}
	q, err := checkQuestion(question, true)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, clientIP); err != nil {
		return nil, err
	}
	if s.guard.Injection(q) {
		return s.blocked(ctx, KindTarot, clientIP, q), nil
	}

	drawn, err := draw(cards, s.intn)
	if err != nil {
		return nil, fmt.Errorf("mystic: draw: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "კითხვა: %s\n\nგაშლილი ბარათები:\n", q)
	for _, c := range drawn {
		side := "პირდაპირი"
		if c.IsReversed {
			side = "შებრუნებული"
		}
		fmt.Fprintf(&b, "- %s: %s (%s), %s. საკვანძო სიტყვები: %s\n", c.Position, c.NameKa, c.Name, side, c.Meaning())
	}
	b.WriteString("\nგანმარტე თითოეული ბარათი მისი პოზიციის მიხედვით და შეაჯამე პასუხი კითხვაზე.")

	r, err := s.read(ctx, KindTarot, b.String(), 1200)
	if err != nil {
		return nil, err
	}
	r.Cards = drawn
	return r, nil
}

// Horoscope returns today's reading for a sign. One reading per sign and
// day is generated and then served to everyone.
func (s *Service) Horoscope(ctx context.Context, clientIP, sign string) (*Reading, error) {
	sg, err := LookupSign(sign)
	if err != nil {
		return nil, err
	}
	date := s.now().UTC().Format(time.DateOnly)
	key := sg.Key + "|" + date

	s.mu.Lock()
	cached := s.daily[key]
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	if err := s.allow(ctx, clientIP); err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("დაწერე დღევანდელი (%s) ჰოროსკოპი ნიშნისთვის %s %s (სტიქია: %s). "+
		"სექციები: სიყვარული, კარიერა, ჯანმრთელობა და დღის რჩევა.", date, sg.Symbol, sg.NameKa, sg.Element)
	r, err := s.read(ctx, KindHoroscope, prompt, 800)
	if err != nil {
		return nil, err
	}
	r.Sign = &sg
	r.Date = date

	s.mu.Lock()
	for k := range s.daily {
		if !strings.HasSuffix(k, "|"+date) {
			delete(s.daily, k)
		}
	}
	s.daily[key] = r
	s.mu.Unlock()
	return r, nil
}

// Fortune answers a free-form question.
func (s *Service) Fortune(ctx context.Context, clientIP, question string) (*Reading, error) {
	q, err := checkQuestion(question, false)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, clientIP); err != nil {
		return nil, err
	}
	if s.guard.Injection(q) {
		return s.blocked(ctx, KindFortune, clientIP, q), nil
	}
	return s.read(ctx, KindFortune, "მკითხავის კითხვა: "+q+"\n\nუპასუხე როგორც ბედისწერის მკითხავმა.", 800)
}

func (s *Service) allow(ctx context.Context, clientIP string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, "mystic:"+clientIP)
	if err != nil {
		slog.Warn("mystic: rate limiter unavailable", "error", err)
		return nil
	}
	if !d.Allowed {
		return &RateLimitError{Decision: d}
	}
	return nil
}

func (s *Service) blocked(ctx context.Context, kind, clientIP, q string) *Reading {
	s.events.Record(ctx, observability.Event{
		Type:       observability.EventInjectionBlocked,
		EntityType: "mystic",
		EntityID:   kind,
		ClientIP:   clientIP,
		Details:    map[string]any{"message": safe.Truncate(q, 200)},
	})
	return &Reading{
		Kind:     kind,
		Text:     demochat.Refusal,
		Sections: content.Parse(demochat.Refusal),
		Blocked:  true,
	}
}

func (s *Service) read(ctx context.Context, kind, prompt string, maxTokens int) (*Reading, error) {
	start := time.Now()
	out, err := s.llm.Complete(ctx, llm.Request{
		System:      persona,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.9,
		MaxTokens:   maxTokens,
	})
	labels := map[string]string{"kind": kind}
	s.metrics.Observe(observability.MetricLLMLatencyMs, float64(time.Since(start).Milliseconds()), "ms", labels)
	if err != nil {
		s.metrics.Observe(observability.MetricLLMErrors, 1, "count", labels)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	s.metrics.Observe(observability.MetricMysticReadings, 1, "count", labels)
	out = s.guard.Redact(out)
	return &Reading{Kind: kind, Text: out, Sections: content.Parse(out)}, nil
}

func checkQuestion(q string, optional bool) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		if optional {
			return "ზოგადი მომავალი", nil
		}
		return "", fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(q) > MaxQuestionLen {
		return "", fmt.Errorf("%w: question longer than %d characters", ErrInvalidRequest, MaxQuestionLen)
	}
	return q, nil
}
