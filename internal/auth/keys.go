package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"auditgate/internal/models"
	"auditgate/internal/utils"
)

const (
	apiKeyRandomLength = 32
	apiKeyCharset      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAPIKey returns a fresh plaintext key: prefix plus 32 random
// alphanumerics. The plaintext is shown to the caller exactly once; only
// its hash and last four characters are stored.
func GenerateAPIKey() (string, error) {
	max := big.NewInt(int64(len(apiKeyCharset)))
	buf := make([]byte, apiKeyRandomLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate API key: %w", err)
		}
		buf[i] = apiKeyCharset[n.Int64()]
	}
	return models.APIKeyPrefix + string(buf), nil
}

// HashAPIKey returns the stored form of a plaintext key.
func HashAPIKey(plaintext string) string {
	return utils.HashString(plaintext)
}

// KeySuffix returns the trailing characters kept for masked display.
func KeySuffix(plaintext string) string {
	if len(plaintext) < 4 {
		return plaintext
	}
	return plaintext[len(plaintext)-4:]
}
