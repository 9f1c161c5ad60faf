package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

// LoginHandler handles registration and the login pipeline.
type LoginHandler struct {
	Auth *service.AuthService
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	SessionID   string `json:"session_id"`
	RiskScore   int    `json:"risk_score"`

	BackupCodesRemaining *int                        `json:"backup_codes_remaining,omitempty"`
	Findings             []domain.SuspiciousActivity `json:"findings,omitempty"`
}

// HandleLogin handles POST /v1/login and POST /v1/2fa/verify-login. Both
// run the same pipeline; the second form exists for clients that collect
// the code in a separate step after a two_factor_required response.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	req, ok := decodeLoginRequest(w, r)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.Auth.Login(ctx, service.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		IPAddress:     httpx.IPKeyExtractor(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		writeLoginError(w, log, err)
		return
	}

	body := loginResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresIn:   res.ExpiresIn,
		SessionID:   res.Session.ID,
		RiskScore:   res.Session.RiskScore,
		Findings:    res.Findings,
	}
	if res.UsedBackupCode {
		remaining := res.BackupCodesRemaining
		body.BackupCodesRemaining = &remaining
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, body)
}

// decodeLoginRequest accepts either a JSON body or form encoding. Form
// encoding exists so the rate limiter can key on the submitted identifier
// as well as the source address.
func decodeLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return loginRequest{}, false
		}
		return loginRequest{
			Email:         r.PostFormValue("email"),
			Password:      r.PostFormValue("password"),
			TwoFactorCode: r.PostFormValue("two_factor_code"),
		}, true
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return loginRequest{}, false
	}
	return req, true
}

func writeLoginError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrTwoFactorRequired):
		httpx.WriteError(w, http.StatusUnauthorized,
			"two_factor_required", "a two-factor code is required to complete this login")
	case errors.Is(err, service.ErrLockedOut):
		httpx.WriteError(w, http.StatusTooManyRequests,
			"locked_out", "too many failed attempts, try again later")
	case errors.Is(err, service.ErrIPBanned):
		httpx.WriteError(w, http.StatusForbidden,
			"forbidden", "requests from this address are not accepted")
	case errors.Is(err, service.ErrAccountSuspended):
		httpx.WriteError(w, http.StatusForbidden,
			"account_suspended", "this account is suspended")
	case errors.Is(err, service.ErrInvalidCredentials):
		// Uniform answer for unknown identifier, wrong password and
		// wrong code.
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_credentials", "the provided credentials are incorrect")
	default:
		log.Error("login failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError,
			"server_error", "internal server error")
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister handles POST /v1/register.
func (h *LoginHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	user, err := h.Auth.Register(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrWeakPassword):
		httpx.WriteError(w, http.StatusBadRequest,
			"weak_password", "password must be at least 10 characters")
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "a valid email address is required")
		return
	case errors.Is(err, service.ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict,
			"email_taken", "an account with this email already exists")
		return
	case err != nil:
		log.Error("registration failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError,
			"server_error", "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID,
		"email": user.Email,
	})
}
