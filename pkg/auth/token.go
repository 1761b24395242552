package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix identifies spoke API keys
	APIKeyPrefix = "shk_"
	// APIKeyLength is the number of random bytes in an API key (256 bits)
	APIKeyLength = 32
	// NonceLength is the number of random bytes in an SSO nonce (256 bits)
	NonceLength = 32
)

// TokenGenerator generates random credentials and their lookup hashes
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateAPIKey creates a new spoke API key.
// Format: shk_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateAPIKey() (key string, keyHash string, err error) {
	encoded, err := randomString(APIKeyLength)
	if err != nil {
		return "", "", err
	}
	key = APIKeyPrefix + encoded
	return key, tg.HashToken(key), nil
}

// GenerateNonce creates a single-use SSO nonce
func (tg *TokenGenerator) GenerateNonce() (string, error) {
	return randomString(NonceLength)
}

// HashToken computes the hex SHA-256 of a credential for lookup.
// Surrounding whitespace is not part of the credential.
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(hash[:])
}

// IsHash reports whether s looks like a value produced by HashToken
func IsHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
