package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramMaxBody leaves room for the markup around the message within
	// the 4096 character limit of sendMessage.
	telegramMaxBody = 3900
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID with a 10-second HTTP timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// telegramReply is the Bot API response envelope.
type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts to the chat with sendMessage. The title is bold and the body is
// preformatted so addresses keep their alignment.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("<b>%s</b>\n<pre>%s</pre>",
		html.EscapeString(title), html.EscapeString(truncate(message, telegramMaxBody)))

	resp, err := postJSON(ctx, t.client, t.Name(), fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token), map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	derr := &DeliveryError{Sender: t.Name(), Status: resp.StatusCode}
	var reply telegramReply
	raw := readDetail(resp.Body)
	if json.Unmarshal([]byte(raw), &reply) == nil && reply.Description != "" {
		derr.Detail = reply.Description
		derr.RetryAfter = time.Duration(reply.Parameters.RetryAfter) * time.Second
	} else {
		derr.Detail = raw
	}
	return derr
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
