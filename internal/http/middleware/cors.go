package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"

	"ezywork/internal/config"
)

// CORS builds the cross-origin policy from cfg, or returns nil when no
// origins are configured. Credentials are never allowed with a "*" origin.
func CORS(cfg config.Config) func(http.Handler) http.Handler {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return nil
	}
	wildcard := slices.Contains(cfg.CORSAllowedOrigins, "*")

	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		// Last-Event-ID lets EventSource resume worker streams
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: cfg.CORSAllowCredentials && !wildcard,
		MaxAge:           300,
	})
}
