// Package api implements the Raido REST API using chi.
package api

import (
	"net/http"
	"strings"
)

// actorHeader identifies the acting user for audit purposes. Authentication
// itself is handled by the deployment's front proxy or the bearer token.
const actorHeader = "X-Actor-Id"

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorID(r *http.Request) string {
	return r.Header.Get(actorHeader)
}
