package auth

import (
	"errors"
	"testing"
	"time"
)

func TestWebhookSignerRoundTrip(t *testing.T) {
	signer, err := NewWebhookSigner("secret")
	if err != nil {
		t.Fatalf("NewWebhookSigner: %v", err)
	}
	fixedNow := time.Unix(1700000000, 0)
	signer.WithClock(func() time.Time { return fixedNow })

	payload := []byte(`{"rule":"LargeTransaction","severity":"High"}`)
	header := signer.Sign(payload)

	if err := signer.Verify(header, payload, time.Minute); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
}

func TestWebhookSignerRejectsTamperedPayload(t *testing.T) {
	signer, err := NewWebhookSigner("secret")
	if err != nil {
		t.Fatalf("NewWebhookSigner: %v", err)
	}
	now := time.Unix(1700000000, 0)
	signer.WithClock(func() time.Time { return now })

	header := signer.Sign([]byte(`{"original":true}`))
	if err := signer.Verify(header, []byte(`{"tampered":true}`), time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestWebhookSignerRejectsStaleSignature(t *testing.T) {
	signer, err := NewWebhookSigner("secret")
	if err != nil {
		t.Fatalf("NewWebhookSigner: %v", err)
	}
	signTime := time.Unix(1700000000, 0)
	signer.WithClock(func() time.Time { return signTime })
	payload := []byte(`{"rule":"OracleDeviation"}`)
	header := signer.Sign(payload)

	signer.WithClock(func() time.Time { return signTime.Add(10 * time.Minute) })
	if err := signer.Verify(header, payload, time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale signature, got %v", err)
	}
}

func TestWebhookSignerRejectsMalformedHeader(t *testing.T) {
	signer, err := NewWebhookSigner("secret")
	if err != nil {
		t.Fatalf("NewWebhookSigner: %v", err)
	}
	if err := signer.Verify("garbage", []byte("payload"), time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
