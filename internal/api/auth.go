package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth rejects requests without the configured API token. The token
// is read from the Authorization header, or from the access_token query
// parameter on event streams, since browser EventSource cannot set headers.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, msg := requestToken(r)
		if msg != "" {
			s.writeError(w, http.StatusUnauthorized, msg)
			return
		}
		if !constantTimeEqual(token, s.config.Token) {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestToken returns the presented token, or a message describing why
// none could be read.
func requestToken(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if strings.HasSuffix(r.URL.Path, "/events") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, ""
			}
		}
		return "", "missing Authorization header"
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", "invalid Authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", "missing token"
	}
	return token, ""
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
