package middleware

import "net/http"

// DefaultSecurityHeaders returns the recommended response headers.
func DefaultSecurityHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Content-Security-Policy":   "default-src 'self'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Cache-Control":             "no-store, no-cache, must-revalidate",
	}
}

// SecurityHeaders adds a fixed set of response headers to every request.
type SecurityHeaders struct {
	headers map[string]string
}

// NewSecurityHeaders constructs a SecurityHeaders middleware.
func NewSecurityHeaders(headers map[string]string) *SecurityHeaders {
	if headers == nil {
		headers = DefaultSecurityHeaders()
	}
	return &SecurityHeaders{headers: headers}
}

// Handler wraps next, stamping the configured headers on every response.
func (m *SecurityHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range m.headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
