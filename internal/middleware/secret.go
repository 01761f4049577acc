package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireSecret guards operator-facing routes (session issuance, the live
// feed) with the shared API secret. Comparison is constant-time; an empty
// configured secret fails every request closed rather than open.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Secret")
			if secret == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"success":false,"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
