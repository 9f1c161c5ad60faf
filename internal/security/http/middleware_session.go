package http

import (
	"errors"
	"net/http"

	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// sessionGuard binds authenticated requests to a live Session row. A token
// whose session has been invalidated stops working immediately, well
// before the token itself expires. Each accepted request advances the
// session's last_activity.
func (rt *Router) sessionGuard() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			sid := httpx.SessionIDFromCtx(ctx)
			if sid == "" {
				httpx.WriteError(w, http.StatusUnauthorized,
					"invalid_token", "token carries no session")
				return
			}

			sess, err := rt.store.Sessions().GetSessionByID(ctx, sid)
			if errors.Is(err, store.ErrNotFound) {
				httpx.WriteError(w, http.StatusUnauthorized,
					"session_invalidated", "session no longer exists")
				return
			}
			if err != nil {
				log.Error("session lookup failed", "session_id", sid, "err", err)
				httpx.WriteError(w, http.StatusInternalServerError,
					"server_error", "internal server error")
				return
			}
			if !sess.IsActive || sess.UserID != httpx.UserIDFromCtx(ctx) {
				httpx.WriteError(w, http.StatusUnauthorized,
					"session_invalidated", "session is no longer active")
				return
			}

			if err := rt.Sessions.Touch(ctx, sid); err != nil {
				// Tracking failure is not worth failing the request.
				log.Warn("failed to touch session", "session_id", sid, "err", err)
			}

			next.ServeHTTP(w, r)
		})
	}
}
