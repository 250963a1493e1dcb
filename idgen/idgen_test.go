package idgen

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("pur_", UUIDv7())()
	if !strings.HasPrefix(id, "pur_") {
		t.Fatalf("Prefixed: expected prefix 'pur_', got %q", id)
	}
	if len(id) != 4+36 {
		t.Fatalf("Prefixed: expected length 40, got %d", len(id))
	}
}

func TestToken_EntropyAndEncoding(t *testing.T) {
	gen := Token(24)
	tok := gen()
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 24 {
		t.Fatalf("token bytes: got %d, want 24", len(raw))
	}
	if strings.ContainsAny(tok, "+/=") {
		t.Fatalf("token not URL-safe: %q", tok)
	}
}

func TestToken_MinimumLength(t *testing.T) {
	raw, _ := base64.RawURLEncoding.DecodeString(Token(4)())
	if len(raw) != 16 {
		t.Fatalf("short token request should be raised to 16 bytes, got %d", len(raw))
	}
}

func TestToken_Uniqueness(t *testing.T) {
	gen := Token(16)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok := gen()
		if _, ok := seen[tok]; ok {
			t.Fatalf("Token: duplicate at iteration %d", i)
		}
		seen[tok] = struct{}{}
	}
}
