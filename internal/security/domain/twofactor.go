package domain

import "time"

// TwoFactorCredential holds a user's TOTP enrollment (1:1 with User).
//
// Invariant: Enabled=true requires a non-empty SecretCiphertext and at least
// one backup code row at enable time. Backup code hashes live in their own
// table and are deleted (not flagged) on use.
type TwoFactorCredential struct {
	UserID           string
	SecretCiphertext []byte // AES-256-CBC, random IV prefixed
	Enabled          bool
	VerifiedAt       *time.Time
	// LastUsedStep records the most recent accepted TOTP step so a code
	// cannot be replayed within the same or adjacent step.
	LastUsedStep int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TwoFactorSetup is returned exactly once from setup; the caller is
// responsible for one-time display of the plaintext secret and codes.
type TwoFactorSetup struct {
	Secret         string   // base32 TOTP secret
	QRPayload      string   // otpauth:// URL for QR code generation
	BackupCodes    []string // 8 codes, XXXX-XXXX
	ManualEntryKey string   // secret grouped for manual entry
}

// TwoFactorVerifyResult reports a login-time 2FA verification.
type TwoFactorVerifyResult struct {
	Success        bool
	UsedBackupCode bool // caller should warn about diminishing recovery codes
	CodesRemaining int  // remaining backup codes when one was consumed
}
