package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// TwoFactorHandler handles TOTP enrollment and backup code management.
type TwoFactorHandler struct {
	TwoFactor *service.TwoFactorService
}

type twoFactorSetupResponse struct {
	Secret         string   `json:"secret"`
	QRPayload      string   `json:"qr_payload"`
	ManualEntryKey string   `json:"manual_entry_key"`
	BackupCodes    []string `json:"backup_codes"`
}

// HandleSetup handles POST /v1/2fa/setup. The response is the only time
// the plaintext secret and backup codes are ever shown.
func (h *TwoFactorHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	setup, err := h.TwoFactor.Setup(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrTwoFactorAlreadyEnabled) {
			httpx.WriteError(w, http.StatusConflict,
				"already_enabled", "two-factor authentication is already enabled")
			return
		}
		log.Error("2fa setup failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, twoFactorSetupResponse{
		Secret:         setup.Secret,
		QRPayload:      setup.QRPayload,
		ManualEntryKey: setup.ManualEntryKey,
		BackupCodes:    setup.BackupCodes,
	})
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// HandleEnable handles POST /v1/2fa/enable.
func (h *TwoFactorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	var req twoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	err := h.TwoFactor.Enable(ctx, userID, req.Code)
	switch {
	case errors.Is(err, service.ErrTwoFactorNotEnrolled):
		httpx.WriteError(w, http.StatusBadRequest,
			"not_enrolled", "run setup before enabling")
	case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
		httpx.WriteError(w, http.StatusConflict,
			"already_enabled", "two-factor authentication is already enabled")
	case errors.Is(err, service.ErrInvalidTwoFactorCode), errors.Is(err, service.ErrCodeReplayed):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_code", "the code is not valid")
	case err != nil:
		log.Error("2fa enable failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": true})
	}
}

// HandleDisable handles DELETE /v1/2fa. A valid code is required so a
// hijacked session cannot silently strip the second factor.
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	var req twoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	err := h.TwoFactor.Disable(ctx, userID, req.Code)
	switch {
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		httpx.WriteError(w, http.StatusBadRequest,
			"not_enabled", "two-factor authentication is not enabled")
	case errors.Is(err, service.ErrInvalidTwoFactorCode), errors.Is(err, service.ErrCodeReplayed):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_code", "the code is not valid")
	case err != nil:
		log.Error("2fa disable failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": false})
	}
}

// HandleRegenerateBackupCodes handles POST /v1/2fa/backup-codes.
func (h *TwoFactorHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	var req twoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	codes, err := h.TwoFactor.RegenerateBackupCodes(ctx, userID, req.Code)
	switch {
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		httpx.WriteError(w, http.StatusBadRequest,
			"not_enabled", "two-factor authentication is not enabled")
	case errors.Is(err, service.ErrInvalidTwoFactorCode), errors.Is(err, service.ErrCodeReplayed):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_code", "the code is not valid")
	case err != nil:
		log.Error("backup code regeneration failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	default:
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
	}
}
