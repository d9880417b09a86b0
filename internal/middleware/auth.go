package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"peoplecounter/internal/config"
	"peoplecounter/internal/dto"
)

// APIKey guards a handler with the static shared secret. When no key is
// configured, access is anonymous.
func APIKey(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.APIKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(dto.ErrorResponse{
					Code:    "unauthorized",
					Message: "Invalid or missing API key",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
