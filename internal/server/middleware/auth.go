package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires one of the comma-separated keys in apiKeys as a Bearer token
// or an X-API-Key header. Listing several keys lets operators rotate without
// downtime. An empty apiKeys disables the check; paths in public always pass.
func Auth(apiKeys string, public ...string) func(http.Handler) http.Handler {
	keys := splitKeys(apiKeys)
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token := extractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
				return
			}
			if !anyKeyMatches(keys, token) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitKeys(v string) [][]byte {
	var keys [][]byte
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// anyKeyMatches compares token against every key in constant time.
func anyKeyMatches(keys [][]byte, token string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	return match == 1
}

// extractToken reads "Authorization: Bearer <key>" or "X-API-Key: <key>".
func extractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
