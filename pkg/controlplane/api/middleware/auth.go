// Package middleware provides HTTP middleware for the control plane's REST
// API: bearer-token authentication backed by pkg/session.Minter.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hyperbridge/dmabridge/pkg/session"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ClaimsFromContext retrieves the validated session claims from ctx.
// Returns nil if called before JWTAuth has run, or on an unauthenticated
// route.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*session.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// JWTAuth validates a Bearer session token minted by minter and, on
// success, stores its claims in the request context for downstream
// handlers and RequirePeerVM to read.
func JWTAuth(minter *session.Minter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := minter.Validate(token)
			if err != nil {
				http.Error(w, "invalid or expired session token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePeerVM blocks a request whose path or query names a peer_vm that
// doesn't match the session's OwnerVM, so one VM's session token can't be
// replayed to issue verbs scoped to another VM. Must run after JWTAuth.
func RequirePeerVM(vmOf func(*http.Request) (uint32, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if vm, ok := vmOf(r); ok && vm != claims.OwnerVM {
				http.Error(w, "session is not scoped to this VM", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
