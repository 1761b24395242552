package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the X-Signature header against the expected
// digest in constant time
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// IdempotencyKey identifies a delivery. The provider's webhook id is used
// when present; otherwise the event name and body are hashed so identical
// redeliveries collapse.
func IdempotencyKey(eventName string, body []byte, webhookID string) string {
	if webhookID != "" {
		return "ls:" + webhookID
	}
	h := sha256.New()
	h.Write([]byte(eventName))
	h.Write([]byte("\n"))
	h.Write(body)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
