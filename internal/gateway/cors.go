package gateway

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware allows the listed browser origins. With no origins it
// is a pass-through and browsers fall back to same-origin.
func NewCORSMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	if len(allowOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := make(map[string]bool)
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}
	methodStr := strings.Join([]string{"GET", "POST", "PUT", "OPTIONS"}, ", ")
	headerStr := strings.Join([]string{"Content-Type", "Authorization", "X-API-Key"}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || origins[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", methodStr)
				w.Header().Set("Access-Control-Allow-Headers", headerStr)
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware limits request body size.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
