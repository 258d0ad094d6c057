package security

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the dashboard origins to call the admin API. An empty list
// disables cross-origin access.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Idempotency-Key", "X-API-Key", "X-Request-ID", "X-View-Previous"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Total-Count", "X-View-Fingerprint", "X-Records-Origin", "Location", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
