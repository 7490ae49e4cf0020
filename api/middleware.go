// Package api carries the HTTP middleware shared by the handlers: admin
// token authentication and per-IP rate limiting.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthMiddleware guards admin endpoints with the configured token.
// The token may arrive as a bearer Authorization header or a ?token=
// query parameter and is checked against the bcrypt hash. An empty hash
// leaves the endpoints open so a fresh install works before an operator
// generates a token.
func AdminAuthMiddleware(tokenHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Always allow OPTIONS for CORS preflight.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeAuthError(w, "authentication required")
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				writeAuthError(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the admin token from the request. Priority:
// Authorization header, then ?token= query parameter for clients that
// cannot set headers.
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
