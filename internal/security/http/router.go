// Package http exposes the session security engine over HTTP.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/jwtx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     *jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// SchedulerToken authorizes the external cleanup trigger endpoint.
	SchedulerToken string

	store     store.Store
	Auth      *service.AuthService
	TwoFactor *service.TwoFactorService
	Sessions  *service.SessionService
	Audit     *service.AuditService
	Admin     *service.AdminService
	Cleanup   *service.CleanupService
}

func NewRouter(
	verifier *jwtx.Verifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTwoFactor()
	r.registerSessions()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware
// chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authed wraps a handler with token verification and the live-session
// guard. Every authenticated request touches its session row.
func (r *Router) authed(h http.Handler, extra ...httpx.Middleware) http.Handler {
	mw := append([]httpx.Middleware{
		httpx.AuthnMiddleware(r.verifier),
		r.sessionGuard(),
	}, extra...)
	return httpx.Chain(h, mw...)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{Auth: r.Auth}

	// Keyed by IP and the submitted identifier so one address cannot
	// starve an office NAT, and one identifier cannot be hammered from
	// many addresses below the throttle's radar.
	loginLimit := httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "email")

	r.Mux.Handle("POST /v1/login", httpx.Chain(
		http.HandlerFunc(login.HandleLogin), loginLimit))
	r.Mux.Handle("POST /v1/2fa/verify-login", httpx.Chain(
		http.HandlerFunc(login.HandleLogin), loginLimit))
	r.Mux.Handle("POST /v1/register", httpx.Chain(
		http.HandlerFunc(login.HandleRegister),
		httpx.RateLimitByIP(httpx.StrictLimit)))
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{TwoFactor: r.TwoFactor}
	limit := httpx.RateLimitByUser(httpx.ModerateLimit)

	r.Mux.Handle("POST /v1/2fa/setup", r.authed(http.HandlerFunc(h.HandleSetup), limit))
	r.Mux.Handle("POST /v1/2fa/enable", r.authed(http.HandlerFunc(h.HandleEnable), limit))
	r.Mux.Handle("POST /v1/2fa/backup-codes", r.authed(http.HandlerFunc(h.HandleRegenerateBackupCodes), limit))
	r.Mux.Handle("DELETE /v1/2fa", r.authed(http.HandlerFunc(h.HandleDisable), limit))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Sessions: r.Sessions, Audit: r.Audit}
	limit := httpx.RateLimitByUser(httpx.ModerateLimit)

	r.Mux.Handle("GET /v1/sessions", r.authed(http.HandlerFunc(h.HandleList), limit))
	r.Mux.Handle("GET /v1/sessions/status", r.authed(http.HandlerFunc(h.HandleStatus), limit))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.authed(http.HandlerFunc(h.HandleInvalidate), limit))
	r.Mux.Handle("DELETE /v1/sessions", r.authed(http.HandlerFunc(h.HandleInvalidateOthers), limit))
	r.Mux.Handle("GET /v1/security/activity", r.authed(http.HandlerFunc(h.HandleActivity), limit))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Admin: r.Admin}

	r.Mux.Handle("POST /v1/admin/security-actions", r.authed(
		http.HandlerFunc(h.HandleSecurityAction),
		httpx.RequireAdmin(),
		httpx.RateLimitByUser(httpx.ModerateLimit)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", httpx.Chain(
		LivezHandler(r.startTime, r.buildVersion),
		httpx.RateLimitByIP(httpx.LenientLimit)))
	r.Mux.Handle("GET /readyz", httpx.Chain(
		ReadyzHandler(r.store),
		httpx.RateLimitByIP(httpx.LenientLimit)))

	cleanup := &SystemHandler{Cleanup: r.Cleanup}
	r.Mux.Handle("POST /v1/system/session-cleanup", httpx.Chain(
		http.HandlerFunc(cleanup.HandleCleanup),
		httpx.RequireStaticToken(r.SchedulerToken)))
}
