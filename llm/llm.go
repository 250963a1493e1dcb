// Package llm is the completion client used by the demo chat and the mystic
// tools. Callers depend on the Completer interface; Gemini talks to Google's
// API and Static serves tests and offline runs.
package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call. System is kept out of Messages so
// it can never be echoed back as a user turn.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Completer produces the assistant's next turn.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Static answers every request with a fixed reply, or with the result of
// Fn when set. It records the requests it received.
type Static struct {
	Reply string
	Fn    func(Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

// Complete implements Completer.
func (s *Static) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.Fn != nil {
		return s.Fn(req)
	}
	if strings.TrimSpace(s.Reply) == "" {
		return "", ErrEmptyResponse
	}
	return s.Reply, nil
}

// Calls returns the requests received so far.
func (s *Static) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
