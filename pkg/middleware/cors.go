package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// OriginAllowed reports whether a dashboard origin may call the API or open
// the leaderboard websocket. Requests without an Origin header (non-browser
// clients) pass; "*" allows any origin.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// CORS creates the CORS middleware for the dashboard origins. Records are
// never deleted, so DELETE is not offered.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return OriginAllowed(origin, allowedOrigins)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Dev-Agent", "X-Dev-Role"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler
}
