package middleware

import (
	"net/http"
	"strings"
)

// CORS returns middleware that sets CORS headers for the allowed origins and
// answers preflight requests. An empty allowedOrigins list allows every
// origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				hdr := w.Header()
				hdr.Add("Vary", "Origin")
				if originAllowed(allowedOrigins, origin) {
					hdr.Set("Access-Control-Allow-Origin", origin)
					hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					hdr.Set("Access-Control-Max-Age", "86400")
				}
			}

			// Preflight requests end here; they never carry credentials.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
