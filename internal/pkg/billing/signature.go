package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyPaddleWebhookSignature checks a Paddle-Signature header of the
// form "ts=<unix>;h1=<hex hmac>". The HMAC-SHA256 is computed over
// "<ts>:<raw body>" with the endpoint secret.
func VerifyPaddleWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			h1 = v
		}
	}
	if ts == "" || h1 == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(h1))
	if err != nil {
		return false
	}

	signed := make([]byte, 0, len(ts)+1+len(payload))
	signed = append(signed, ts...)
	signed = append(signed, ':')
	signed = append(signed, payload...)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signed)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignPayload computes the hex HMAC-SHA256 of a body, used for outbound
// tier-change notifications and by tests building valid headers.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
