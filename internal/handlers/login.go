package handlers

import (
	"crypto/subtle"
	"net/http"

	"coralcam/internal/config"
	"coralcam/internal/logger"
	"coralcam/internal/middleware"
)

// LoginHandler handles POST /auth/login by checking the viewer token and issuing an auth cookie.
func LoginHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.FormValue("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.ViewerToken)) != 1 {
			logger.Warning("Rejected login from %s", r.RemoteAddr)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     middleware.TokenCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   2592000, // 30 days
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}
