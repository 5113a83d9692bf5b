package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeyPrefix is the prefix for generated API keys
	KeyPrefix = "sv_key_"
	// KeyLength is the length of the random part of the key
	KeyLength = 32
)

// ErrInvalidKey is returned for a key that is not in the set.
var ErrInvalidKey = errors.New("invalid API key")

// GenerateAPIKey generates a new API key.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, KeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(bytes), nil
}

// HashAPIKey hashes an API key so it can be held and compared without
// keeping the key itself.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// KeySet validates keys against a fixed list, typically from config.
type KeySet struct {
	hashes [][]byte
}

// NewKeySet returns a KeySet accepting keys. Blank entries are ignored.
func NewKeySet(keys ...string) *KeySet {
	s := &KeySet{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.hashes = append(s.hashes, []byte(HashAPIKey(k)))
		}
	}
	return s
}

// Len reports how many keys the set accepts.
func (s *KeySet) Len() int {
	return len(s.hashes)
}

// ValidateAPIKey returns nil when key is in the set.
func (s *KeySet) ValidateAPIKey(ctx context.Context, key string) error {
	candidate := []byte(HashAPIKey(key))
	match := 0
	for _, h := range s.hashes {
		match |= subtle.ConstantTimeCompare(candidate, h)
	}
	if match != 1 {
		return ErrInvalidKey
	}
	return nil
}
