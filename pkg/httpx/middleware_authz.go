package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAdmin is the single authorization guard for admin-scoped operations.
// Every admin endpoint goes through this middleware rather than re-checking
// the role inline in its handler.
func RequireAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAdminFromCtx(r.Context()) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="admin"`)
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("insufficient_scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaticToken guards endpoints intended for machine callers (e.g. the
// external cleanup scheduler) behind a static bearer token.
func RequireStaticToken(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if token == "" || subtle.ConstantTimeCompare([]byte(authz), []byte(token)) != 1 {
				writeBearerError(w, "invalid system token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
