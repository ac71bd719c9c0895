// Package middleware holds the HTTP middleware chain: auth, request
// logging, CORS, and per-client rate limiting.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// healthPath is exempt from authentication so load balancers can probe it.
const healthPath = "/api/health"

// Auth validates requests against a static API key, accepted either as a
// Bearer token or in the X-API-Key header. An empty key disables the check.
func Auth(apiKey string) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 || r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				token = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if token == "" {
				deny(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), key) != 1 {
				deny(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken pulls the token out of an "Authorization: Bearer x" header,
// matching the scheme case-insensitively.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const scheme = "bearer "
	if len(auth) <= len(scheme) || !strings.EqualFold(auth[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(auth[len(scheme):])
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
