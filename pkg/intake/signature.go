package intake

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// DefaultSignatureHeader carries the HMAC of the request body.
const DefaultSignatureHeader = "X-Pulse-Signature"

// Sign returns the sha256 signature of body in "sha256=<hex>" form.
func Sign(body []byte, secret string) string {
	return "sha256=" + computeHMAC(sha256.New, body, secret)
}

// VerifySignature checks a "sha256=<hex>" or "sha1=<hex>" signature of body.
func VerifySignature(body []byte, signature, secret string) bool {
	algorithm, digest, ok := strings.Cut(signature, "=")
	if !ok || digest == "" {
		return false
	}

	var expected string
	switch algorithm {
	case "sha256":
		expected = computeHMAC(sha256.New, body, secret)
	case "sha1":
		expected = computeHMAC(sha1.New, body, secret)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 1
}

func computeHMAC(h func() hash.Hash, body []byte, secret string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
