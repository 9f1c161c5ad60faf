package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// SessionsHandler serves the account's session list, security status and
// revocation endpoints.
type SessionsHandler struct {
	Sessions *service.SessionService
	Audit    *service.AuditService
}

type sessionView struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address"`
	Location     string    `json:"location,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	RiskScore    int       `json:"risk_score"`
	RiskLevel    string    `json:"risk_level"`
	IsSuspicious bool      `json:"is_suspicious"`
	Current      bool      `json:"current"`
}

func toSessionView(s domain.Session, currentID string) sessionView {
	return sessionView{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		Location:     s.Location,
		Browser:      s.Browser,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		RiskScore:    s.RiskScore,
		RiskLevel:    string(domain.RiskBucket(s.RiskScore)),
		IsSuspicious: s.IsSuspicious,
		Current:      s.ID == currentID,
	}
}

// HandleList handles GET /v1/sessions.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	sessions, err := h.Sessions.ListActive(ctx, userID)
	if err != nil {
		log.Error("failed to list sessions", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	current := httpx.SessionIDFromCtx(ctx)
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = toSessionView(s, current)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// HandleStatus handles GET /v1/sessions/status.
func (h *SessionsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	status, err := h.Sessions.Status(ctx, userID)
	if err != nil {
		log.Error("failed to derive security status", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, status)
}

// HandleInvalidate handles DELETE /v1/sessions/{id}.
func (h *SessionsHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)
	sessionID := r.PathValue("id")

	err := h.Sessions.Invalidate(ctx, userID, sessionID, "user_revoked")
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no such session")
	case err != nil:
		log.Error("failed to invalidate session", "session_id", sessionID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleInvalidateOthers handles DELETE /v1/sessions. The caller's own
// session survives.
func (h *SessionsHandler) HandleInvalidateOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)
	current := httpx.SessionIDFromCtx(ctx)

	n, err := h.Sessions.InvalidateAllOthers(ctx, userID, current, "user_revoked_all")
	if err != nil {
		log.Error("failed to revoke other sessions", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

type activityView struct {
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	IPAddress   string    `json:"ip_address"`
	RiskLevel   string    `json:"risk_level"`
	Success     bool      `json:"success"`
	Metadata    any       `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HandleActivity handles GET /v1/security/activity, the account's recent
// audit trail.
func (h *SessionsHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
	}

	events, err := h.Audit.History(ctx, userID, limit)
	if err != nil {
		log.Error("failed to list activity", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	views := make([]activityView, len(events))
	for i, e := range events {
		views[i] = activityView{
			EventType:   string(e.EventType),
			Description: e.Description,
			IPAddress:   e.IPAddress,
			RiskLevel:   string(e.RiskLevel),
			Success:     e.Success,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": views})
}
