package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Embed limits, less the code fence around the description.
const (
	discordMaxTitle       = 256
	discordMaxDescription = 4080
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the webhook URL with a
// 10-second HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// discordEmbed is the subset of the webhook embed object we send.
type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// embedColor tints lifecycle alerts by the event kind in the title.
func embedColor(title string) int {
	switch {
	case strings.HasPrefix(title, "Mature"), strings.HasPrefix(title, "Issuance"):
		return 0x2ECC71
	case strings.HasPrefix(title, "Coupon"), strings.HasPrefix(title, "OptionPayout"):
		return 0xF1C40F
	default:
		return 0x3498DB
	}
}

// Send posts one embed to the Discord webhook. Discord answers 204 on
// success and 429 with a Retry-After header when the webhook is throttled.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	resp, err := postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]any{
		"embeds": []discordEmbed{{
			Title:       truncate(title, discordMaxTitle),
			Description: "```\n" + truncate(message, discordMaxDescription) + "\n```",
			Color:       embedColor(title),
		}},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{
		Sender:     d.Name(),
		Status:     resp.StatusCode,
		Detail:     readDetail(resp.Body),
		RetryAfter: retryAfterHeader(resp.Header),
	}
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
