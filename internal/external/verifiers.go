package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ---------------------------------------------------------------------------
// Billing Webhook Verification (HMAC-SHA256)
// ---------------------------------------------------------------------------

// PolarVerifier implements WebhookVerifier for the billing provider's webhook
// signature scheme: a hex-encoded HMAC-SHA256 digest of the raw request body,
// optionally prefixed with "sha256=". Comparison is constant-time.
type PolarVerifier struct{}

// Verify checks the signature header against the HMAC-SHA256 of the payload.
// Returns nil when the signature matches, an error otherwise.
func (v *PolarVerifier) Verify(payload []byte, header string, secret string) error {
	if header == "" {
		return errors.New("signature header is empty")
	}
	if secret == "" {
		return errors.New("webhook secret is not configured")
	}

	supplied := strings.TrimPrefix(header, "sha256=")
	suppliedBytes, err := hex.DecodeString(supplied)
	if err != nil {
		return errors.New("signature is not valid hex")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(suppliedBytes, expected) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Compile-time assertion that PolarVerifier satisfies WebhookVerifier.
var _ WebhookVerifier = (*PolarVerifier)(nil)

// Sign computes the hex HMAC-SHA256 digest the provider would send for the
// given payload. Exported for test fixtures and local webhook replay tooling.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
