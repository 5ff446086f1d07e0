package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authMiddleware requires basic auth with the fixed user name and bcrypt-checked password
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == basicAuthUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="pipecron"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}
