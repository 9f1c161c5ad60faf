package cryptox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$v=19$")

	require.NoError(t, VerifyPassword("correct horse battery staple", hash))
	require.Error(t, VerifyPassword("wrong password", hash))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	require.Error(t, VerifyPassword("pw", "not-a-hash"))
	require.Error(t, VerifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"))
}

func TestGenerateBackupCodeFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for range 32 {
		code, err := GenerateBackupCode()
		require.NoError(t, err)
		require.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, code)
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 30, "codes should be effectively unique")
}

func TestFingerprintTokenIsDeterministic(t *testing.T) {
	SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	a := FingerprintToken("ABCD-EFGH")
	b := FingerprintToken("ABCD-EFGH")
	c := FingerprintToken("ABCD-EFGJ")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
