package auth

import (
	"net/http"
)

// SecurityHeadersMiddleware adds security headers to HTTP responses. HSTS is
// only sent in production, where the server sits behind TLS.
func SecurityHeadersMiddleware(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if production {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "microphone=(), camera=()")

			next.ServeHTTP(w, r)
		})
	}
}
