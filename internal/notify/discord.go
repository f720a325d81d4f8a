package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Embed colours by outcome.
const (
	colorLoss    = 0xE74C3C
	colorGain    = 0x2ECC71
	colorNeutral = 0x95A5A6
)

// DiscordSender posts each notification as a single webhook embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: "simledger",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       embedColor(title, message),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
}

// embedColor reads the outcome from the text the services produce.
func embedColor(title, message string) int {
	t := strings.ToLower(title + " " + message)
	switch {
	case strings.Contains(t, "liquidat"), strings.Contains(t, "pnl -"), strings.Contains(t, "realized -"):
		return colorLoss
	case strings.Contains(t, "pnl +"), strings.Contains(t, "realized +"):
		return colorGain
	default:
		return colorNeutral
	}
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
