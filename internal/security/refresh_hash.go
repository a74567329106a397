package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const refreshNonceBytes = 32

// HashRefreshToken returns the hex HMAC-SHA256 of token keyed by pepper. The session
// store is keyed by this value and never sees the plaintext token.
func HashRefreshToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewRefreshNonce returns 256 bits of randomness, base64url encoded.
func NewRefreshNonce() (string, error) {
	return RandomString(refreshNonceBytes)
}

func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
