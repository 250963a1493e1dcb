// Package channels delivers operator notifications (new purchases, blocked
// injection attempts) to Telegram and generic webhooks.
//
// Delivery is best effort: callers log a failed Notify and move on, nothing
// is queued or retried.
//
//	n := channels.Multi(
//	    channels.NewTelegram(token, chatID),
//	    channels.NewWebhook(url, secret),
//	)
//	if err := n.Notify(ctx, channels.Message{Title: "ახალი შეკვეთა", Text: "..."}); err != nil {
//	    slog.Warn("notify failed", "error", err)
//	}
package channels

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Message is a platform-neutral notification.
type Message struct {
	Event  string            `json:"event"`
	Title  string            `json:"title"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
	Time   time.Time         `json:"time"`
}

// Render formats the message as plain text: title, body, then the fields
// sorted by key, one per line.
func (m Message) Render() string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title)
		b.WriteString("\n")
	}
	if m.Text != "" {
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(m.Fields[k])
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier delivers a message to one destination.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

type nop struct{}

func (nop) Notify(context.Context, Message) error { return nil }

// Nop drops every message.
var Nop Notifier = nop{}

type multi []Notifier

// Multi sends to every notifier in order and joins their errors. Nil
// notifiers are skipped; with none left it returns Nop.
func Multi(ns ...Notifier) Notifier {
	var m multi
	for _, n := range ns {
		if n != nil {
			m = append(m, n)
		}
	}
	switch len(m) {
	case 0:
		return Nop
	case 1:
		return m[0]
	}
	return m
}

func (m multi) Notify(ctx context.Context, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
