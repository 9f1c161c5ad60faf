package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/internal/security/store/drivers/sqlite"
	"github.com/vigil-sec/vigil/pkg/idx"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func createUser(t *testing.T, st *sqlite.Store, email string) domain.User {
	t.Helper()

	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsersRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	u := createUser(t, st, "Alice@Example.com")

	got, err := st.Users().GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "alice@example.com", got.Email, "emails are stored lowercased")

	_, err = st.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = st.Users().CreateUser(ctx, domain.User{
		ID: idx.New().String(), Email: "alice@example.com",
		PasswordHash: "x", CreatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, st.Users().SetSuspended(ctx, u.ID, true))
	got, err = st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.IsSuspended)
}

func TestTwoFactorRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "bob@example.com")

	now := time.Now().UTC()
	cred := domain.TwoFactorCredential{
		UserID:           u.ID,
		SecretCiphertext: []byte{0x01, 0x02, 0x03},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, st.TwoFactor().UpsertCredential(ctx, cred))

	got, err := st.TwoFactor().GetCredential(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Nil(t, got.VerifiedAt)

	require.NoError(t, st.TwoFactor().Enable(ctx, u.ID, now))
	got, err = st.TwoFactor().GetCredential(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.Enabled)
	require.NotNil(t, got.VerifiedAt)

	require.NoError(t, st.TwoFactor().SetLastUsedStep(ctx, u.ID, 12345))
	got, err = st.TwoFactor().GetCredential(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 12345, got.LastUsedStep)

	require.NoError(t, st.TwoFactor().DeleteCredential(ctx, u.ID))
	_, err = st.TwoFactor().GetCredential(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackupCodesRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "carol@example.com")

	for _, h := range []string{"hash-a", "hash-b", "hash-c"} {
		require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, u.ID, h))
	}

	hashes, err := st.BackupCodes().ListBackupCodeHashes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"hash-a", "hash-b", "hash-c"}, hashes, "insertion order preserved")

	require.NoError(t, st.BackupCodes().DeleteBackupCode(ctx, u.ID, "hash-b"))
	hashes, err = st.BackupCodes().ListBackupCodeHashes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"hash-a", "hash-c"}, hashes)

	count, err := st.BackupCodes().CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, st.BackupCodes().DeleteAllBackupCodes(ctx, u.ID))
	count, err = st.BackupCodes().CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSessionRiskColumnsPersistAtInsert(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "risky@example.com")

	now := time.Now().UTC()
	sess := domain.Session{
		ID: idx.New().String(), UserID: u.ID,
		DeviceFingerprint: "fp", IPAddress: "203.0.113.9",
		CreatedAt: now, LastActivity: now,
		RiskScore: 85, IsSuspicious: true, IsActive: true,
	}
	require.NoError(t, st.Sessions().CreateSession(ctx, sess))

	got, err := st.Sessions().GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 85, got.RiskScore)
	require.True(t, got.IsSuspicious)
}

func TestSessionInvalidationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "dave@example.com")

	now := time.Now().UTC()
	sess := domain.Session{
		ID: idx.New().String(), UserID: u.ID,
		DeviceFingerprint: "fp", IPAddress: "203.0.113.9",
		CreatedAt: now, LastActivity: now, IsActive: true,
	}
	require.NoError(t, st.Sessions().CreateSession(ctx, sess))

	first := now.Add(time.Minute)
	changed, err := st.Sessions().InvalidateSession(ctx, sess.ID, "user_logout", first)
	require.NoError(t, err)
	require.True(t, changed)

	// Second invalidation is a no-op, not an error, and the original
	// invalidated_at timestamp is preserved.
	changed, err = st.Sessions().InvalidateSession(ctx, sess.ID, "another_reason", first.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, changed)

	got, err := st.Sessions().GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, "user_logout", got.InvalidationReason)
	require.WithinDuration(t, first, *got.InvalidatedAt, time.Second)
}

func TestInvalidateAllOthers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "erin@example.com")

	now := time.Now().UTC()
	var keep string
	for i := range 4 {
		s := domain.Session{
			ID: idx.New().String(), UserID: u.ID,
			DeviceFingerprint: "fp", IPAddress: "203.0.113.9",
			CreatedAt: now, LastActivity: now.Add(time.Duration(i) * time.Minute),
			IsActive: true,
		}
		require.NoError(t, st.Sessions().CreateSession(ctx, s))
		keep = s.ID
	}

	n, err := st.Sessions().InvalidateAllOthers(ctx, u.ID, keep, "remote_revoke", now)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	active, err := st.Sessions().ListActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, keep, active[0].ID)
}

func TestListActiveOrdersByLastActivityDesc(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "frank@example.com")

	base := time.Now().UTC().Truncate(time.Second)
	var newest string
	for i := range 3 {
		s := domain.Session{
			ID: idx.New().String(), UserID: u.ID,
			DeviceFingerprint: "fp", IPAddress: "203.0.113.9",
			CreatedAt: base, LastActivity: base.Add(time.Duration(i) * time.Hour),
			IsActive: true,
		}
		require.NoError(t, st.Sessions().CreateSession(ctx, s))
		newest = s.ID
	}

	active, err := st.Sessions().ListActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, newest, active[0].ID)
}

func TestAuditEventsRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "grace@example.com")

	now := time.Now().UTC()
	e := domain.AuditEvent{
		ID: idx.New().String(), UserID: u.ID, Email: u.Email,
		IPAddress: "203.0.113.7", UserAgent: "test-agent",
		EventType: domain.EventLoginSuccess, Description: "login",
		Metadata:  domain.LoginMetadata{SessionID: "s1", RiskScore: 20},
		RiskLevel: domain.RiskLow, Success: true, CreatedAt: now,
	}
	require.NoError(t, st.AuditEvents().InsertAuditEvent(ctx, e))

	events, err := st.AuditEvents().ListAuditEventsByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventLoginSuccess, events[0].EventType)

	meta, ok := events[0].Metadata.(map[string]any)
	require.True(t, ok, "metadata reads back as a generic map")
	require.Equal(t, "s1", meta["session_id"])

	// Distinct identifier count from one IP (stuffing signal).
	for _, email := range []string{"a@example.com", "b@example.com", "a@example.com"} {
		require.NoError(t, st.AuditEvents().InsertAuditEvent(ctx, domain.AuditEvent{
			ID: idx.New().String(), Email: email, IPAddress: "198.51.100.1",
			EventType: domain.EventLoginFailed, Description: "bad password",
			RiskLevel: domain.RiskLow, CreatedAt: now,
		}))
	}
	count, err := st.AuditEvents().CountDistinctEmailsByIPSince(ctx, "198.51.100.1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestBannedIPsRepo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	now := time.Now().UTC()
	ban := domain.BannedIP{
		IPAddress: "198.51.100.66", Reason: "credential stuffing",
		BannedBy: "admin-1", BannedAt: now, IsActive: true,
	}
	require.NoError(t, st.BannedIPs().UpsertBan(ctx, ban))

	got, err := st.BannedIPs().GetBan(ctx, "198.51.100.66")
	require.NoError(t, err)
	require.True(t, got.Blocks(now))
	require.Nil(t, got.ExpiresAt)

	require.NoError(t, st.BannedIPs().LiftBan(ctx, "198.51.100.66"))
	got, err = st.BannedIPs().GetBan(ctx, "198.51.100.66")
	require.NoError(t, err)
	require.False(t, got.Blocks(now))

	_, err = st.BannedIPs().GetBan(ctx, "203.0.113.1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := createUser(t, st, "henry@example.com")

	sentinel := store.ErrAlreadyExists
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().CreateBackupCode(ctx, u.ID, "hash-1"); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	count, err := st.BackupCodes().CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, count, "rolled back writes must not be visible")
}
