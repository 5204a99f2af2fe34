// Package auth provides HMAC-SHA256 request signing for outbound webhook
// deliveries, so a receiving endpoint can authenticate that a payload
// genuinely came from this watchtower instance.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature indicates a computed signature did not match the
// one presented by the caller.
var ErrInvalidSignature = errors.New("invalid signature")

// WebhookSigner signs outbound webhook bodies with a shared secret,
// following the common "timestamp.body" HMAC convention so receivers can
// reject replayed deliveries outside an acceptable window.
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner constructs a signer for the given shared secret.
func NewWebhookSigner(secret string) (*WebhookSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret must not be empty")
	}
	return &WebhookSigner{secret: []byte(secret), now: time.Now}, nil
}

// Sign returns the "t=<unix>,v1=<hex hmac>" header value for the payload,
// mirroring the scheme webhook receivers (Stripe, Slack) already expect.
func (s *WebhookSigner) Sign(payload []byte) string {
	ts := s.now().Unix()
	mac := s.digest(ts, payload)
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(mac)
}

// Verify recomputes the signature for payload at the timestamp embedded
// in header and compares it in constant time, rejecting signatures
// outside the supplied tolerance window.
func (s *WebhookSigner) Verify(header string, payload []byte, tolerance time.Duration) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}
	expected := s.digest(ts, payload)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, expected) {
		return ErrInvalidSignature
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if tolerance > 0 && age > tolerance {
		return ErrInvalidSignature
	}
	return nil
}

// WithClock overrides the signer's clock, enabling deterministic tests.
func (s *WebhookSigner) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.now = clock
}

func (s *WebhookSigner) digest(ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseHeader(header string) (int64, string, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", ErrInvalidSignature
			}
			ts = v
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", ErrInvalidSignature
	}
	return ts, sig, nil
}
