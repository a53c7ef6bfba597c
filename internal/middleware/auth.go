package middleware

import (
	"crypto/subtle"
	"net/http"

	"vaste-chatbot/internal/api"
)

// BackendKeyHeader carries the secret shared between the server, the bot
// runners and trusted management callers.
const BackendKeyHeader = "x-backend-key"

// BackendKey rejects requests whose x-backend-key does not match key. An
// empty key rejects everything.
func BackendKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasBackendKey(r, key) {
				api.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasBackendKey reports whether r carries key. An empty key never matches.
func HasBackendKey(r *http.Request, key string) bool {
	got := r.Header.Get(BackendKeyHeader)
	return key != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}
