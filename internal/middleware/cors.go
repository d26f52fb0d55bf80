// Package middleware provides HTTP middleware for the chat relay gateway.
package middleware

import "net/http"

// CORS returns middleware allowing browser-based OpenAI-compatible callers
// to reach POST /v1/chat/completions and the introspection endpoints from
// pages served on allowedOrigins. This gateway carries no auth (remote
// clients attach over a separate WebSocket, not this HTTP surface), so
// origin checking here is the only boundary control a browser enforces
// against it. allowedOrigins is the same list the WebSocket upgrade path
// checks via websocket.AcceptOptions.OriginPatterns.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				// Credentials are only ever echoed back for an explicit
				// origin match, never for a wildcard: pairing
				// Allow-Credentials with a wildcard-echoed origin would
				// open the gateway to cross-site credentialed requests.
				if explicitOriginMatch(allowedOrigins, origin) {
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

func originAllowed(allowedOrigins []string, origin string) bool {
	for _, o := range allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func explicitOriginMatch(allowedOrigins []string, origin string) bool {
	for _, o := range allowedOrigins {
		if o != "*" && o == origin {
			return true
		}
	}
	return false
}
