package llm

import (
	"context"
	"errors"
	"testing"
)

func TestStatic_Reply(t *testing.T) {
	s := &Static{Reply: "გამარჯობა"}
	got, err := s.Complete(context.Background(), Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "გამარჯობა" {
		t.Errorf("got %q", got)
	}
	calls := s.Calls()
	if len(calls) != 1 || calls[0].System != "sys" || calls[0].Messages[0].Content != "hi" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestStatic_Fn(t *testing.T) {
	s := &Static{Fn: func(r Request) (string, error) {
		return "echo: " + r.Messages[len(r.Messages)-1].Content, nil
	}}
	got, _ := s.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if got != "echo: x" {
		t.Errorf("got %q", got)
	}
}

func TestStatic_Empty(t *testing.T) {
	_, err := (&Static{}).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestStatic_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Static{Reply: "x"}
	if _, err := s.Complete(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(s.Calls()) != 0 {
		t.Error("canceled call recorded")
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), "", "", 0); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
