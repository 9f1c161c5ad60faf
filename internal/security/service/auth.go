package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/geo"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/internal/security/throttle"
	"github.com/vigil-sec/vigil/pkg/cryptox"
	"github.com/vigil-sec/vigil/pkg/idx"
	"github.com/vigil-sec/vigil/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers unknown identifier and wrong password
	// alike; the two must stay indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("account temporarily locked")
	ErrIPBanned           = errors.New("address is banned")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrTwoFactorRequired  = errors.New("two-factor code required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password does not meet requirements")
)

const minPasswordLength = 10

// AuthService composes the full login pipeline: IP ban gate, throttle,
// password, second factor, anomaly detection, session creation, audit and
// notification, token issuance.
type AuthService struct {
	Store     store.Store
	Throttle  *throttle.Limiter
	TwoFactor *TwoFactorService
	Detector  *Detector
	Sessions  *SessionService
	Audit     *AuditService
	Notify    *Notifier
	Signer    *jwtx.Signer
	Geo       geo.Resolver
	Log       *slog.Logger

	Issuer   string
	TokenTTL time.Duration

	now func() time.Time
}

func (s *AuthService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// LoginInput carries one login attempt.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
	IPAddress     string
	UserAgent     string
}

// LoginResult is a completed login.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int // seconds
	Session     domain.Session

	UsedBackupCode       bool
	BackupCodesRemaining int
	Findings             []domain.SuspiciousActivity
}

// Login runs the pipeline. The gates fire in a fixed order: banned IP,
// lockout, password, second factor. Detection runs only after all gates
// pass and never fails the login by itself.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if err := s.checkBannedIP(ctx, email, in); err != nil {
		return LoginResult{}, err
	}

	status, err := s.Throttle.Check(ctx, email)
	if err != nil {
		// A broken throttle backend fails open: locking every user out
		// of login because Redis is down is the worse failure mode.
		s.Log.ErrorContext(ctx, "throttle check failed, allowing attempt", "error", err)
	} else if status.Locked {
		s.Audit.Record(ctx, domain.AuditEvent{
			Email:       email,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
			EventType:   domain.EventLoginLockedOut,
			Description: "login rejected during lockout",
			Metadata: domain.LockoutMetadata{
				Identifier:       email,
				RemainingMinutes: int(status.RetryAfter.Minutes()) + 1,
			},
			RiskLevel: domain.RiskMedium,
		})
		return LoginResult{}, fmt.Errorf("%w: retry in %s", ErrLockedOut, status.RetryAfter.Round(time.Second))
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn comparable time so unknown identifiers are not cheaper
		// to probe than known ones.
		_ = cryptox.VerifyPassword(in.Password, decoyHash)
		return LoginResult{}, s.failAttempt(ctx, email, in, "unknown identifier")
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := cryptox.VerifyPassword(in.Password, user.PasswordHash); err != nil {
		return LoginResult{}, s.failAttempt(ctx, email, in, "wrong password")
	}

	if user.IsSuspended {
		s.Audit.Record(ctx, domain.AuditEvent{
			UserID:      user.ID,
			Email:       email,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
			EventType:   domain.EventLoginFailed,
			Description: "login rejected, account suspended",
			RiskLevel:   domain.RiskMedium,
		})
		return LoginResult{}, ErrAccountSuspended
	}

	amr := []string{"pwd"}
	var verify domain.TwoFactorVerifyResult
	enabled, err := s.TwoFactor.Enabled(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to check two-factor state: %w", err)
	}
	if enabled {
		if in.TwoFactorCode == "" {
			return LoginResult{}, ErrTwoFactorRequired
		}
		verify, err = s.TwoFactor.VerifyLogin(ctx, user.ID, in.TwoFactorCode)
		if err != nil {
			if errors.Is(err, ErrCodeReplayed) {
				s.Audit.Record(ctx, domain.AuditEvent{
					UserID:      user.ID,
					Email:       email,
					IPAddress:   in.IPAddress,
					UserAgent:   in.UserAgent,
					EventType:   domain.EventTwoFactorReplay,
					Description: "replayed two-factor code rejected",
					RiskLevel:   domain.RiskHigh,
				})
			}
			if errors.Is(err, ErrInvalidTwoFactorCode) || errors.Is(err, ErrCodeReplayed) {
				return LoginResult{}, s.failAttempt(ctx, email, in, "invalid two-factor code")
			}
			return LoginResult{}, err
		}
		amr = append(amr, "otp", "mfa")
	}

	if err := s.Throttle.RecordSuccess(ctx, email); err != nil {
		s.Log.WarnContext(ctx, "failed to clear throttle state", "error", err)
	}

	location, loc := s.resolveLocation(ctx, in.IPAddress)

	findings := s.Detector.Detect(ctx, LoginContext{
		User:              user,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: DeviceFingerprint(in.UserAgent, in.IPAddress),
		Location:          loc,
	})

	sess, err := s.Sessions.Create(ctx, user, in.IPAddress, in.UserAgent, location, findings)
	if err != nil {
		return LoginResult{}, err
	}

	meta := domain.LoginMetadata{
		SessionID:  sess.ID,
		RiskScore:  sess.RiskScore,
		UsedMFA:    enabled,
		BackupCode: verify.UsedBackupCode,
		Findings:   findings,
	}
	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      user.ID,
		Email:       email,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		EventType:   domain.EventLoginSuccess,
		Description: "login succeeded",
		Metadata:    meta,
		RiskLevel:   domain.RiskBucket(sess.RiskScore),
		Success:     true,
	})
	if len(findings) > 0 {
		s.Audit.Record(ctx, domain.AuditEvent{
			UserID:      user.ID,
			Email:       email,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
			EventType:   domain.EventSuspiciousLogin,
			Description: "login completed with anomalies",
			Metadata:    meta,
			RiskLevel:   domain.AggregateRiskLevel(findings),
			Success:     true,
		})
		s.Notify.SuspiciousLogin(ctx, user, in.IPAddress, location, findings)
	}

	token, err := s.Signer.Sign(jwtx.NewAccessClaims(
		user.ID, sess.ID, email, user.IsAdmin, amr, s.TokenTTL, s.Issuer, s.clock()))
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultAccessTokenTTL
	}
	return LoginResult{
		AccessToken:          token,
		TokenType:            "Bearer",
		ExpiresIn:            int(ttl.Seconds()),
		Session:              sess,
		UsedBackupCode:       verify.UsedBackupCode,
		BackupCodesRemaining: verify.CodesRemaining,
		Findings:             findings,
	}, nil
}

// Register creates a new account. Email uniqueness errors surface as
// ErrEmailTaken; callers decide how much of that to reveal.
func (s *AuthService) Register(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || len(email) < 3 {
		return domain.User{}, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *AuthService) checkBannedIP(ctx context.Context, email string, in LoginInput) error {
	ban, err := s.Store.BannedIPs().GetBan(ctx, in.IPAddress)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check IP ban: %w", err)
	}
	if !ban.Blocks(s.clock()) {
		return nil
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		Email:       email,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		EventType:   domain.EventLoginBlockedIP,
		Description: "login rejected from banned address",
		RiskLevel:   domain.RiskHigh,
	})
	return ErrIPBanned
}

// failAttempt counts a failed attempt against the identifier, audits it,
// and returns the uniform credentials error. The attempt that trips the
// lockout also notifies the account holder.
func (s *AuthService) failAttempt(ctx context.Context, email string, in LoginInput, detail string) error {
	status, err := s.Throttle.RecordFailure(ctx, email)
	if err != nil {
		s.Log.ErrorContext(ctx, "failed to record login failure", "error", err)
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		Email:       email,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		EventType:   domain.EventLoginFailed,
		Description: "login failed: " + detail,
		RiskLevel:   domain.RiskLow,
	})

	if status.Locked {
		retryMinutes := int(status.RetryAfter.Minutes()) + 1
		s.Audit.Record(ctx, domain.AuditEvent{
			Email:       email,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
			EventType:   domain.EventLoginLockedOut,
			Description: "lockout engaged after repeated failures",
			Metadata: domain.LockoutMetadata{
				Identifier:       email,
				RemainingMinutes: retryMinutes,
			},
			RiskLevel: domain.RiskMedium,
		})
		s.Notify.LockedOut(ctx, email, retryMinutes)
	}
	return ErrInvalidCredentials
}

func (s *AuthService) resolveLocation(ctx context.Context, ip string) (string, geo.Location) {
	loc, err := s.Geo.Resolve(ctx, ip)
	if err != nil {
		s.Log.WarnContext(ctx, "geo lookup failed", "ip", ip, "error", err)
		return "", geo.Location{}
	}
	return loc.Label, loc
}

// decoyHash is a syntactically valid argon2id hash used to equalize the
// cost of attempts against unknown identifiers.
const decoyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
