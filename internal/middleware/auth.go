package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenCookie holds the viewer token after a successful login.
const TokenCookie = "coralcam_token"

// publicPaths are reachable without a token.
var publicPaths = map[string]bool{
	"/healthz":    true,
	"/auth/login": true,
}

// AuthMiddleware requires the viewer token as a bearer header, a "token"
// query parameter (for browsers opening the websocket) or the login cookie.
// An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || validToken(r, token) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="coralcam"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func validToken(r *http.Request, token string) bool {
	var presented string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		presented = q
	} else if cookie, err := r.Cookie(TokenCookie); err == nil {
		presented = cookie.Value
	}
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
