package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// AdminHandler executes operator security actions.
type AdminHandler struct {
	Admin *service.AdminService
}

type securityActionRequest struct {
	// Action is one of: ban_ip, lift_ban, suspend_user, unsuspend_user,
	// invalidate_session.
	Action string `json:"action"`
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`

	// Duration applies to ban_ip; empty means permanent. Go duration
	// syntax, e.g. "24h".
	Duration string `json:"duration,omitempty"`
}

// HandleSecurityAction handles POST /v1/admin/security-actions.
func (h *AdminHandler) HandleSecurityAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	actorID := httpx.UserIDFromCtx(ctx)

	var req securityActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Target == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "target is required")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator action"
	}

	var err error
	switch req.Action {
	case "ban_ip":
		var duration time.Duration
		if req.Duration != "" {
			duration, err = time.ParseDuration(req.Duration)
			if err != nil || duration < 0 {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid duration")
				return
			}
		}
		err = h.Admin.BanIP(ctx, actorID, req.Target, req.Reason, duration)
	case "lift_ban":
		err = h.Admin.LiftBan(ctx, actorID, req.Target)
	case "suspend_user":
		err = h.Admin.SuspendUser(ctx, actorID, req.Target, req.Reason)
	case "unsuspend_user":
		err = h.Admin.UnsuspendUser(ctx, actorID, req.Target)
	case "invalidate_session":
		err = h.Admin.InvalidateSession(ctx, actorID, req.Target, req.Reason)
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown action")
		return
	}

	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"action": req.Action,
			"target": req.Target,
			"status": "applied",
		})
	case errors.Is(err, service.ErrInvalidIPAddress):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "target is not a valid IP address")
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "target does not exist")
	default:
		log.Error("security action failed", "action", req.Action, "target", req.Target, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}
