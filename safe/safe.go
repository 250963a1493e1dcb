// Package safe holds the input and outbound-call guards shared by the
// portal packages: secret length checks, SSRF-safe URL validation for
// admin-supplied feed and webhook URLs, bounded response reads and the
// e-mail check used by the marketplace checkout.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets
// (JWT HS256, webhook signatures).
const MinSecretLen = 32

// MaxResponseBody is the default cap for outbound HTTP response reads.
const MaxResponseBody int64 = 1 << 20

var (
	ErrSecretTooShort = fmt.Errorf("safe: secret must be at least %d bytes", MinSecretLen)
	ErrSSRF           = errors.New("safe: URL targets a private or loopback address")
	ErrUnsafeScheme   = errors.New("safe: only http and https schemes are allowed")
	ErrInvalidEmail   = errors.New("safe: invalid e-mail address")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateURL checks that rawURL uses http/https, has a host, and does not
// point at a private or loopback address. Hostnames are resolved; a DNS
// failure is let through since the dial will fail anyway.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("safe: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateEmail returns the normalised (trimmed, lower-cased) address or
// ErrInvalidEmail. Display-name forms ("Nino <n@x.ge>") are rejected.
func ValidateEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndex(s, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(s), nil
}

// LimitedReadAll reads at most maxBytes from r and fails when the limit is
// exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// Truncate cuts s to at most n runes without splitting a multi-byte
// character. Georgian text is three bytes per letter, so byte slicing
// would corrupt it.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"::1/128",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
