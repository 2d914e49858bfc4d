// Package notify delivers digest messages to the user.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier implements engine.Notifier over the Telegram Bot API.
type TelegramNotifier struct {
	apiBase    string
	token      string
	httpClient *http.Client
}

// NewTelegramNotifier creates a notifier for the given bot token. apiBase
// overrides the Telegram endpoint and is meant for tests; pass "" for
// production.
func NewTelegramNotifier(apiBase, token string) (*TelegramNotifier, error) {
	if token == "" {
		return nil, engine.NewAuthError("telegram bot token is empty", nil)
	}
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	return &TelegramNotifier{
		apiBase:    apiBase,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send delivers a Markdown-formatted message to the chat.
func (n *TelegramNotifier) Send(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return engine.NewTransientError("telegram request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return engine.NewAuthError(fmt.Sprintf("telegram rejected bot token (%d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return engine.NewTransientError(fmt.Sprintf("telegram unavailable (%d)", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return engine.NewPermanentError(fmt.Sprintf("telegram error %d: %s", resp.StatusCode, data), nil)
	}

	telemetry.FromContext(ctx).WithField("chat_id", chatID).Debug("sent telegram message")
	return nil
}
