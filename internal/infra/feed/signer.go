package feed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer produces the authentication headers some feed venues require
// on the websocket handshake: an HMAC-SHA256 over timestamp, method and
// path, base64 encoded.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a signer for the given API credentials.
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{accessKey: accessKey, secretKey: secretKey}
}

// AuthHeaders returns the headers for a signed request against path.
func (s *Signer) AuthHeaders(method, path string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	payload := timestamp + method + path
	return map[string]string{
		"ACCESS-KEY":       s.accessKey,
		"ACCESS-SIGN":      computeHmacSha256(payload, s.secretKey),
		"ACCESS-TIMESTAMP": timestamp,
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
