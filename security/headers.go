package security

import "net/http"

// apiContentSecurityPolicy forbids every resource type; the API only serves JSON
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

// SetSecurityHeaders sets the response headers shared by all API endpoints.
// HSTS is only sent when the service is reachable over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, hsts bool) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", apiContentSecurityPolicy)
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cross-Origin-Resource-Policy", "same-origin")

	if hsts {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Menu and audit responses may carry admin data
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}

// SecurityHeadersMiddleware applies SetSecurityHeaders to every response
func SecurityHeadersMiddleware(hsts bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w, hsts)
		next.ServeHTTP(w, r)
	})
}
