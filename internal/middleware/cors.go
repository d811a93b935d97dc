// Package middleware provides HTTP middleware for the fsagent API.
package middleware

import (
	"net/http"
	"slices"
)

const (
	allowedMethods  = "GET, POST, OPTIONS"
	allowedHeaders  = "Content-Type, Authorization"
	preflightMaxAge = "600"
)

// CORS returns middleware that handles CORS headers for the run API.
// "*" in allowedOrigins echoes any origin but never grants credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			w.Header().Add("Vary", "Origin")
			if origin != "" && (wildcard || explicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
				// Credentials only for explicit origins; a wildcard echo would enable CSRF.
				if explicit && origin != "*" {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
