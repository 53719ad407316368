package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireInternalAuth guards agent routes with the shared internal secret.
// An empty secret rejects every request.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if systemSecret == "" {
				writeUnauthorized(w, "internal access is not configured")
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing or malformed bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(systemSecret)) != 1 {
				writeUnauthorized(w, "invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
