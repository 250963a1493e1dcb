package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gvirila/portal/safe"
)

// TelegramAPI is the Bot API base URL.
const TelegramAPI = "https://api.telegram.org"

// Telegram posts messages to one chat through the Bot API sendMessage call.
type Telegram struct {
	token  string
	chatID string

	// BaseURL overrides TelegramAPI, for tests.
	BaseURL string
	Client  *http.Client
}

// NewTelegram returns a notifier for chatID using the bot token from
// @BotFather.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		BaseURL: TelegramAPI,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     msg.Render(),
		"disable_web_page_preview": true,
	})
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Cause: err}
	}

	url := t.BaseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		return &ErrSendFailed{Platform: "telegram", Cause: fmt.Errorf("sendMessage: %w", unwrapURLError(err))}
	}
	defer resp.Body.Close()

	raw, err := safe.LimitedReadAll(resp.Body, safe.MaxResponseBody)
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Cause: fmt.Errorf("read response: %w", err)}
	}
	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return &ErrSendFailed{Platform: "telegram", Cause: fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err)}
	}
	if !tr.OK {
		return &ErrSendFailed{Platform: "telegram", Cause: fmt.Errorf("status %d: %s", resp.StatusCode, tr.Description)}
	}
	return nil
}
