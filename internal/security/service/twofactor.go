package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/cryptox"
)

const (
	backupCodeCount = 8
	totpPeriod      = 30
	totpSkew        = 1 // accept one step either side for clock drift
)

var (
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	ErrCodeReplayed            = errors.New("two-factor code already used")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorNotEnrolled    = errors.New("two-factor authentication not enrolled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
)

type TwoFactorService struct {
	Store  store.Store
	Audit  *AuditService
	Issuer string // TOTP issuer label shown in authenticator apps

	now func() time.Time
}

func (s *TwoFactorService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Setup enrolls a user: generates a TOTP secret and a fresh batch of
// backup codes. The secret and codes are returned in plaintext exactly
// once; at rest only the encrypted secret and code fingerprints survive.
// Two-factor is NOT active until Enable confirms a valid code.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (domain.TwoFactorSetup, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to get user: %w", err)
	}

	cred, err := s.Store.TwoFactor().GetCredential(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to get credential: %w", err)
	}
	if err == nil && cred.Enabled {
		return domain.TwoFactorSetup{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	ciphertext, err := cryptox.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	codes := make([]string, backupCodeCount)
	for i := range codes {
		codes[i], err = cryptox.GenerateBackupCode()
		if err != nil {
			return domain.TwoFactorSetup{}, fmt.Errorf("failed to generate backup code: %w", err)
		}
	}

	now := s.clock().UTC()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.TwoFactor().UpsertCredential(ctx, domain.TwoFactorCredential{
			UserID:           userID,
			SecretCiphertext: ciphertext,
			CreatedAt:        now,
			UpdatedAt:        now,
		}); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		// Re-running setup replaces any codes from a previous attempt.
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear old backup codes: %w", err)
		}
		for _, code := range codes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(code)); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.TwoFactorSetup{}, err
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		Email:       user.Email,
		EventType:   domain.EventTwoFactorSetup,
		Description: "two-factor enrollment started",
		Success:     true,
	})

	return domain.TwoFactorSetup{
		Secret:         key.Secret(),
		QRPayload:      key.URL(),
		BackupCodes:    codes,
		ManualEntryKey: groupSecret(key.Secret()),
	}, nil
}

// Enable activates two-factor after the user proves possession of the
// authenticator by submitting one valid code.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	cred, err := s.Store.TwoFactor().GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTwoFactorNotEnrolled
	}
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}
	if cred.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}

	step, err := s.verifyTOTP(ctx, cred, code)
	if err != nil {
		return err
	}

	if err := s.Store.TwoFactor().Enable(ctx, userID, s.clock().UTC()); err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	if err := s.Store.TwoFactor().SetLastUsedStep(ctx, userID, step); err != nil {
		return fmt.Errorf("failed to record used step: %w", err)
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		EventType:   domain.EventTwoFactorEnabled,
		Description: "two-factor authentication enabled",
		Success:     true,
	})
	return nil
}

// Enabled reports whether the user has active two-factor enrollment.
func (s *TwoFactorService) Enabled(ctx context.Context, userID string) (bool, error) {
	cred, err := s.Store.TwoFactor().GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred.Enabled, nil
}

// VerifyLogin checks a login-time second factor. Six-digit numeric input
// is treated as a TOTP code, anything else as a backup code. A consumed
// backup code is deleted in the same transaction that matched it.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, userID, code string) (domain.TwoFactorVerifyResult, error) {
	cred, err := s.Store.TwoFactor().GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TwoFactorVerifyResult{}, ErrTwoFactorNotEnabled
	}
	if err != nil {
		return domain.TwoFactorVerifyResult{}, fmt.Errorf("failed to get credential: %w", err)
	}
	if !cred.Enabled {
		return domain.TwoFactorVerifyResult{}, ErrTwoFactorNotEnabled
	}

	if isTOTPFormat(code) {
		step, err := s.verifyTOTP(ctx, cred, code)
		if err != nil {
			return domain.TwoFactorVerifyResult{}, err
		}
		if err := s.Store.TwoFactor().SetLastUsedStep(ctx, userID, step); err != nil {
			return domain.TwoFactorVerifyResult{}, fmt.Errorf("failed to record used step: %w", err)
		}
		return domain.TwoFactorVerifyResult{Success: true}, nil
	}

	return s.verifyBackupCode(ctx, userID, code)
}

// Disable removes the enrollment and all backup codes after the user
// confirms with a valid code.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if _, err := s.VerifyLogin(ctx, userID, code); err != nil {
		return err
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.TwoFactor().DeleteCredential(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		EventType:   domain.EventTwoFactorDisabled,
		Description: "two-factor authentication disabled",
		Success:     true,
	})
	return nil
}

// RegenerateBackupCodes replaces the remaining codes with a fresh batch of
// eight after TOTP confirmation. Old codes stop working immediately.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	cred, err := s.Store.TwoFactor().GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if !cred.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	step, err := s.verifyTOTP(ctx, cred, totpCode)
	if err != nil {
		return nil, err
	}
	if err := s.Store.TwoFactor().SetLastUsedStep(ctx, userID, step); err != nil {
		return nil, fmt.Errorf("failed to record used step: %w", err)
	}

	codes := make([]string, backupCodeCount)
	for i := range codes {
		codes[i], err = cryptox.GenerateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete old backup codes: %w", err)
		}
		for _, code := range codes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(code)); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		EventType:   domain.EventBackupCodesRotated,
		Description: "backup codes regenerated",
		Success:     true,
	})
	return codes, nil
}

// verifyTOTP validates the code against the decrypted secret and returns
// the matched step. Steps at or before the last accepted one are rejected
// as replays even when the code itself is still within the skew window.
func (s *TwoFactorService) verifyTOTP(ctx context.Context, cred domain.TwoFactorCredential, code string) (int64, error) {
	secret, err := cryptox.DecryptSecret(cred.SecretCiphertext)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	now := s.clock()
	for _, delta := range []int64{0, -1, 1} {
		at := now.Add(time.Duration(delta) * totpPeriod * time.Second)
		ok, err := totp.ValidateCustom(code, string(secret), at, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      0,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to validate TOTP code: %w", err)
		}
		if !ok {
			continue
		}

		step := at.Unix() / totpPeriod
		if cred.LastUsedStep != 0 && step <= cred.LastUsedStep {
			return 0, ErrCodeReplayed
		}
		return step, nil
	}
	return 0, ErrInvalidTwoFactorCode
}

// verifyBackupCode matches a submitted code against the stored
// fingerprints and consumes it atomically on success.
func (s *TwoFactorService) verifyBackupCode(ctx context.Context, userID, code string) (domain.TwoFactorVerifyResult, error) {
	fingerprint := cryptox.FingerprintToken(normalizeBackupCode(code))

	var remaining int
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		hashes, err := tx.BackupCodes().ListBackupCodeHashes(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list backup codes: %w", err)
		}

		// Compare against every stored hash so timing does not reveal
		// the position (or absence) of a match.
		matched := false
		for _, h := range hashes {
			if cryptox.ConstantTimeEquals(h, fingerprint) {
				matched = true
			}
		}
		if !matched {
			return ErrInvalidTwoFactorCode
		}

		if err := tx.BackupCodes().DeleteBackupCode(ctx, userID, fingerprint); err != nil {
			return fmt.Errorf("failed to consume backup code: %w", err)
		}
		remaining = len(hashes) - 1
		return nil
	})
	if err != nil {
		return domain.TwoFactorVerifyResult{}, err
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		EventType:   domain.EventBackupCodeUsed,
		Description: fmt.Sprintf("backup code consumed, %d remaining", remaining),
		Metadata:    map[string]any{"codes_remaining": remaining},
		RiskLevel:   domain.RiskMedium,
		Success:     true,
	})

	return domain.TwoFactorVerifyResult{
		Success:        true,
		UsedBackupCode: true,
		CodesRemaining: remaining,
	}, nil
}

// isTOTPFormat reports whether the input looks like an authenticator code
// (exactly six digits) as opposed to a backup code.
func isTOTPFormat(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// normalizeBackupCode forgives case and missing separator in user input.
func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	if len(code) == 8 && !strings.Contains(code, "-") {
		code = code[:4] + "-" + code[4:]
	}
	return code
}

// groupSecret renders the base32 secret in four-character groups for
// manual entry.
func groupSecret(secret string) string {
	var groups []string
	for len(secret) > 4 {
		groups = append(groups, secret[:4])
		secret = secret[4:]
	}
	groups = append(groups, secret)
	return strings.Join(groups, " ")
}
