package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/hasip-timurtas/solana-watchtower/internal/auth"
)

// WebhookChannel POSTs a JSON payload to an arbitrary HTTP endpoint:
// context-aware request construction, status-code classification, and
// a reused *http.Client.
type WebhookChannel struct {
	name     string
	endpoint string
	client   *http.Client
	shape    func(Rendered) any
	signer   *auth.WebhookSigner
}

// NewWebhookChannel constructs a generic webhook sink. shape, if non-nil,
// lets Slack/Discord wrap the same dispatch logic with their own payload
// envelope; nil uses a plain {subject, body} object.
func NewWebhookChannel(name, endpoint string, client *http.Client, shape func(Rendered) any) (*WebhookChannel, error) {
	if endpoint == "" {
		return nil, errors.New("webhook endpoint must not be empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if shape == nil {
		shape = func(r Rendered) any {
			return map[string]string{"subject": r.Subject, "body": r.Body}
		}
	}
	return &WebhookChannel{name: name, endpoint: endpoint, client: client, shape: shape}, nil
}

func (c *WebhookChannel) Name() string { return c.name }

// WithSigner attaches an outbound HMAC signer; once set, every delivery
// carries an X-Watchtower-Signature header the receiver can verify.
func (c *WebhookChannel) WithSigner(signer *auth.WebhookSigner) *WebhookChannel {
	c.signer = signer
	return c
}

// Deliver classifies the HTTP response: 5xx/timeout are retryable,
// 4xx (excluding 429) are permanent failures.
func (c *WebhookChannel) Deliver(ctx context.Context, r Rendered) DeliveryResult {
	body, err := json.Marshal(c.shape(r))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("marshal webhook payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("create webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	if c.signer != nil {
		req.Header.Set("X-Watchtower-Signature", c.signer.Sign(body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return DeliveryResult{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return DeliveryResult{}
	case resp.StatusCode == http.StatusTooManyRequests:
		return DeliveryResult{Retryable: true, Err: fmt.Errorf("webhook rate limited: %s", resp.Status)}
	case resp.StatusCode >= 500:
		return DeliveryResult{Retryable: true, Err: fmt.Errorf("webhook server error: %s", resp.Status)}
	default:
		return DeliveryResult{Err: fmt.Errorf("webhook rejected delivery: %s", resp.Status)}
	}
}

// NewSlackChannel wraps WebhookChannel with Slack's {"text": ...}
// incoming-webhook envelope; Slack has no bespoke SDK in the pack and
// its webhook surface is a single JSON POST, so no extra dependency is
// justified beyond net/http (see DESIGN.md).
func NewSlackChannel(name, webhookURL string, client *http.Client) (*WebhookChannel, error) {
	return NewWebhookChannel(name, webhookURL, client, func(r Rendered) any {
		return map[string]string{"text": r.Subject + "\n" + r.Body}
	})
}

// NewDiscordChannel wraps WebhookChannel with Discord's {"content": ...}
// webhook envelope, same rationale as Slack.
func NewDiscordChannel(name, webhookURL string, client *http.Client) (*WebhookChannel, error) {
	return NewWebhookChannel(name, webhookURL, client, func(r Rendered) any {
		return map[string]string{"content": r.Subject + "\n" + r.Body}
	})
}
