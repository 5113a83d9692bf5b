package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// normalizeAddress lowercases an address so the (chain, address) key is
// case-insensitive.
func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

func encodeSources(sources map[string]string) (string, error) {
	if sources == nil {
		sources = map[string]string{}
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("encoding sources: %w", err)
	}
	return string(b), nil
}

func decodeSources(s string) (map[string]string, error) {
	sources := map[string]string{}
	if s == "" {
		return sources, nil
	}
	if err := json.Unmarshal([]byte(s), &sources); err != nil {
		return nil, fmt.Errorf("decoding sources: %w", err)
	}
	return sources, nil
}

// rawOrNil maps an empty document to NULL.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
