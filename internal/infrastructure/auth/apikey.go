package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	APIKeyPrefix = "sk_live_"
	APIKeyHeader = "X-API-Key"
	APIKeyQuery  = "api_key"
)

// GenerateAPIKey returns a fresh key of the form sk_live_<32 hex chars>.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey is the digest stored in accounts.api_key_hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExtractAPIKey reads the key from the X-API-Key header, falling back to the
// api_key query parameter.
func ExtractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get(APIKeyQuery))
}
