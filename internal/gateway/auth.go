package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAuth checks the bearer token on everything but /healthz. An empty
// configured token rejects every request.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.authorize(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	token := ExtractToken(r)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

// ExtractToken reads the API token from the request. It checks, in order:
// Authorization: Bearer <token>, X-API-Key header, api_key query param. The
// query param exists for browser WebSockets, which cannot set headers.
func ExtractToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
