package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body. The signature must be the
// exact lowercase hex produced by Sign; the comparison runs in constant time.
func Verify(secret string, body []byte, signature string) bool {
	expected := []byte(Sign(secret, body))
	given := []byte(strings.TrimSpace(signature))
	return hmac.Equal(expected, given)
}
