package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skip2/go-qrcode"
)

// TelegramChannel posts to the Telegram Bot API's sendMessage endpoint,
// which is itself a plain HTTPS JSON POST, so it is grounded the same
// way as Slack/Discord (net/http, no bespoke SDK in the pack).
type TelegramChannel struct {
	name    string
	chatID  string
	apiURL  string
	client  *http.Client
	renderQR bool
	linkURL  string
}

// NewTelegramChannel constructs a Telegram sink. botToken and chatID
// identify the destination chat; when renderQR is set and linkURL is
// non-empty, each delivery appends linkURL to the message text as a
// "Link this chat" line. Deliveries carry no QR image; EncodeLinkQR
// renders the QR code separately.
func NewTelegramChannel(name, botToken, chatID string, client *http.Client, renderQR bool, linkURL string) *TelegramChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramChannel{
		name:     name,
		chatID:   chatID,
		apiURL:   fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken),
		client:   client,
		renderQR: renderQR,
		linkURL:  linkURL,
	}
}

func (c *TelegramChannel) Name() string { return c.name }

func (c *TelegramChannel) Deliver(ctx context.Context, r Rendered) DeliveryResult {
	text := r.Subject + "\n" + r.Body
	if c.renderQR && c.linkURL != "" {
		text += "\n\nLink this chat: " + c.linkURL
	}

	payload := map[string]string{"chat_id": c.chatID, "text": text}
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("marshal telegram payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("create telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return DeliveryResult{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return DeliveryResult{}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return DeliveryResult{Retryable: true, Err: fmt.Errorf("telegram transient error: %s", resp.Status)}
	default:
		return DeliveryResult{Err: fmt.Errorf("telegram rejected delivery: %s", resp.Status)}
	}
}

// EncodeLinkQR renders linkURL as a PNG QR code, for dashboards that
// want to surface a scannable "link this chat" code alongside the
// channel's configuration.
func EncodeLinkQR(linkURL string) ([]byte, error) {
	return qrcode.Encode(linkURL, qrcode.Medium, 256)
}
