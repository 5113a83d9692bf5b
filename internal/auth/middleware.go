// Package auth guards HTTP routes with API keys.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Validator checks a presented API key.
type Validator interface {
	ValidateAPIKey(ctx context.Context, key string) error
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid key in X-API-Key or an Authorization bearer token.
func Middleware(v Validator, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := keyFromRequest(r)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			if err := v.ValidateAPIKey(r.Context(), apiKey); err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}
