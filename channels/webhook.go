package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gvirila/portal/safe"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body, "sha256="
// prefixed.
const SignatureHeader = "X-Signature-256"

// Webhook POSTs each message as JSON to a fixed URL. When a secret is set
// the body is signed in SignatureHeader.
type Webhook struct {
	url    string
	secret string

	Client *http.Client
	// validate rejects destinations; safe.ValidateURL unless replaced in tests.
	validate func(string) error
}

// NewWebhook returns a notifier posting to rawURL.
func NewWebhook(rawURL, secret string) *Webhook {
	return &Webhook{
		url:      rawURL,
		secret:   secret,
		Client:   &http.Client{Timeout: 10 * time.Second},
		validate: safe.ValidateURL,
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	// SSRF guard, re-checked per call since DNS can change.
	if err := w.validate(w.url); err != nil {
		return &ErrSendFailed{Platform: "webhook", Cause: fmt.Errorf("url: %w", err)}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &ErrSendFailed{Platform: "webhook", Cause: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Platform: "webhook", Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign([]byte(w.secret), body))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return &ErrSendFailed{Platform: "webhook", Cause: fmt.Errorf("POST: %w", err)}
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ErrSendFailed{Platform: "webhook", Cause: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a SignatureHeader value against body. The "sha256="
// prefix is optional.
func Verify(secret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// request URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
