package utils

import (
	"net/http"

	"github.com/gorilla/mux"
)

// corsMiddleware allows cross-origin requests from trusted origins.
// Calendar clients fetch the feed directly, but the status endpoints are
// consumed by browser dashboards on the local network.
func corsMiddleware(configured []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && AllowedOrigin(origin, configured) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter constructs the base mux router with CORS and the health route.
func NewRouter(allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(allowedOrigins))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return r
}
