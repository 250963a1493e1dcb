package demochat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gvirila/portal/llm"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/safe"
	"github.com/gvirila/portal/shield"
)

const (
	// MaxDemoMessages is the number of user turns a demo conversation may
	// hold.
	MaxDemoMessages = 10
	// MaxMessageLen caps one user message, in characters.
	MaxMessageLen = 2000
	// maxHistory is the number of trailing history turns sent to the model.
	maxHistory = 20
)

// demoNote is appended to a bot's system prompt in demo mode.
const demoNote = "\n\nეს არის დემო რეჟიმი: უპასუხე მოკლედ, არაუმეტეს 3-4 წინადადებისა."

var (
	ErrInvalidRequest   = errors.New("demochat: invalid request")
	ErrDemoDisabled     = errors.New("demochat: demo not available")
	ErrDemoLimitReached = errors.New("demochat: demo message limit reached")
	ErrRateLimited      = errors.New("demochat: rate limited")
	ErrUpstream         = errors.New("demochat: model unavailable")
)

// RateLimitError carries the limiter decision behind ErrRateLimited.
type RateLimitError struct {
	Decision shield.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("demochat: rate limited (%d/%d)", e.Decision.Count, e.Decision.Limit)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ChatRequest is one user turn. History is the transcript so far, as held
// by the client.
type ChatRequest struct {
	BotID    string
	ClientIP string
	Message  string
	History  []llm.Message
}

// ChatResponse is the answer to one turn. MessagesRemaining is set in demo
// mode only.
type ChatResponse struct {
	Response          string `json:"response"`
	MessagesRemaining *int   `json:"messagesRemaining,omitempty"`
	DemoMode          bool   `json:"demoMode,omitempty"`
}

// Config wires a Service.
type Config struct {
	Bots    *Bots
	LLM     llm.Completer
	Limiter *shield.Limiter
	Guard   *Guard                 // nil = NewGuard()
	Events  observability.Recorder // nil = Discard
	Metrics observability.Metrics  // nil = NopMetrics
	// MaxMessages overrides MaxDemoMessages when positive.
	MaxMessages int
}

// Service answers demo and full chat turns.
type Service struct {
	bots     *Bots
	llm      llm.Completer
	limiter  *shield.Limiter
	guard    *Guard
	events   observability.Recorder
	metrics  observability.Metrics
	maxTurns int
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	s := &Service{
		bots:     cfg.Bots,
		llm:      cfg.LLM,
		limiter:  cfg.Limiter,
		guard:    cfg.Guard,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		maxTurns: cfg.MaxMessages,
	}
	if s.guard == nil {
		s.guard = NewGuard()
	}
	if s.events == nil {
		s.events = observability.Discard
	}
	if s.metrics == nil {
		s.metrics = observability.NopMetrics
	}
	if s.maxTurns <= 0 {
		s.maxTurns = MaxDemoMessages
	}
	return s
}

// Guard returns the service's injection guard.
func (s *Service) Guard() *Guard { return s.guard }

// Demo answers one turn of the anonymous demo: validation, bot lookup,
// demo availability, the per-(ip, bot) rate limit, the conversation cap
// and the injection guard run in that order before the model is called.
func (s *Service) Demo(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msg, err := validate(req)
	if err != nil {
		return nil, err
	}
	bot, err := s.bots.Get(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if bot.Status != BotActive || !bot.DemoEnabled {
		return nil, ErrDemoDisabled
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, shield.DemoKey(req.ClientIP, bot.ID))
		if err != nil {
			slog.Warn("demochat: rate limiter unavailable", "error", err, "bot_id", bot.ID)
		} else if !d.Allowed {
			s.record(ctx, observability.EventDemoRateLimited, bot.ID, false, map[string]any{"count": d.Count})
			return nil, &RateLimitError{Decision: d}
		}
	}

	turns := userTurns(req.History)
	if turns >= s.maxTurns {
		s.record(ctx, observability.EventDemoLimitReached, bot.ID, false, map[string]any{"turns": turns})
		return nil, ErrDemoLimitReached
	}
	remaining := s.maxTurns - turns - 1
	s.metrics.Observe(observability.MetricDemoMessages, 1, "count", map[string]string{"bot": bot.ID})

	answer, err := s.answer(ctx, bot, msg, req.History, bot.SystemPrompt+demoNote, 512)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Response: answer, MessagesRemaining: &remaining, DemoMode: true}, nil
}

// Chat answers one turn of the full chat for a signed-in user. It has no
// conversation cap; the guard still applies.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msg, err := validate(req)
	if err != nil {
		return nil, err
	}
	bot, err := s.bots.Get(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if bot.Status != BotActive {
		return nil, ErrBotNotFound
	}
	answer, err := s.answer(ctx, bot, msg, req.History, bot.SystemPrompt, 2048)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Response: answer}, nil
}

// answer runs the guard and the model for one turn.
func (s *Service) answer(ctx context.Context, bot *Bot, msg string, history []llm.Message, system string, maxTokens int) (string, error) {
	if s.guard.Injection(msg) {
		s.record(ctx, observability.EventInjectionBlocked, bot.ID, false, map[string]any{
			"message": safe.Truncate(msg, 200),
		})
		return Refusal, nil
	}

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: msg})

	start := time.Now()
	out, err := s.llm.Complete(ctx, llm.Request{
		System:      system,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	labels := map[string]string{"bot": bot.ID}
	s.metrics.Observe(observability.MetricLLMLatencyMs, float64(time.Since(start).Milliseconds()), "ms", labels)
	if err != nil {
		s.metrics.Observe(observability.MetricLLMErrors, 1, "count", labels)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return s.guard.Redact(out), nil
}

func (s *Service) record(ctx context.Context, typ, botID string, success bool, details map[string]any) {
	s.events.Record(ctx, observability.Event{
		Type:       typ,
		EntityType: "bot",
		EntityID:   botID,
		Details:    details,
		Success:    success,
	})
}

// validate checks the message and history shape and returns the trimmed
// message.
func validate(req ChatRequest) (string, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" || req.BotID == "" {
		return "", ErrInvalidRequest
	}
	if utf8.RuneCountInString(msg) > MaxMessageLen {
		return "", fmt.Errorf("%w: message longer than %d characters", ErrInvalidRequest, MaxMessageLen)
	}
	for _, m := range req.History {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, m.Role)
		}
	}
	return msg, nil
}

func userTurns(history []llm.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == llm.RoleUser {
			n++
		}
	}
	return n
}
