// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"execplane/internal/auth"
	"execplane/pkg/api"
)

type principalKey struct{}

// NewContextWithPrincipal stores the authenticated caller.
func NewContextWithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the caller set by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// AuthMiddleware requires "Authorization: Bearer <token>". The gateway owns token
// validation; when tokenHashes is non-empty the token must also hash to one of them.
func AuthMiddleware(tokenHashes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing or malformed bearer token")
				return
			}
			if len(tokenHashes) > 0 && !auth.Match(token, tokenHashes) {
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := NewContextWithPrincipal(r.Context(), auth.Principal(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, api.ErrorResponse{Error: msg, Code: "unauthorized"})
}

func writeError(w http.ResponseWriter, status int, body api.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
