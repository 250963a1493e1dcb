// Package idgen produces the identifiers used across the portal stores.
//
// Row identifiers are time-sortable UUIDv7 strings, optionally prefixed by
// entity type ("pur_", "post_"). Access tokens handed to marketplace buyers
// are opaque URL-safe random strings and never derived from row identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Token returns a Generator of opaque access tokens carrying nbytes of
// entropy, encoded as unpadded base64url. nbytes below 16 is raised to 16.
func Token(nbytes int) Generator {
	if nbytes < 16 {
		nbytes = 16
	}
	return func() string {
		buf := make([]byte, nbytes)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		return base64.RawURLEncoding.EncodeToString(buf)
	}
}

// Default is the row identifier strategy.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
