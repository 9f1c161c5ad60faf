package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID    ctxKey = "user_id"
	CtxKeyEmail     ctxKey = "email"
	CtxKeySessionID ctxKey = "session_id"
	CtxKeyAdmin     ctxKey = "admin"
	CtxKeyClaims    ctxKey = "claims" // full jwtx.Claims if needed
)

// UserIDFromCtx returns the authenticated user id or "".
func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromCtx returns the session id bound to the access token or "".
func SessionIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok {
		return v
	}
	return ""
}

// EmailFromCtx returns the authenticated user's email or "".
func EmailFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyEmail).(string); ok {
		return v
	}
	return ""
}

func isAdminFromCtx(ctx context.Context) bool {
	v, ok := ctx.Value(CtxKeyAdmin).(bool)
	return ok && v
}
