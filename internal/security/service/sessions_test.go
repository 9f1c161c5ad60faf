package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-sec/vigil/internal/security/domain"
)

func TestComputeRiskScore(t *testing.T) {
	high := domain.SuspiciousActivity{Severity: domain.SeverityHigh}
	med := domain.SuspiciousActivity{Severity: domain.SeverityMedium}
	low := domain.SuspiciousActivity{Severity: domain.SeverityLow}

	tests := []struct {
		name     string
		findings []domain.SuspiciousActivity
		sessions []domain.Session
		want     int
	}{
		{"clean", nil, nil, 0},
		{"single low", []domain.SuspiciousActivity{low}, nil, 5},
		{"single medium", []domain.SuspiciousActivity{med}, nil, 20},
		{"single high", []domain.SuspiciousActivity{high}, nil, 40},
		{"mixed", []domain.SuspiciousActivity{high, med, low}, nil, 65},
		{"capped at 100", []domain.SuspiciousActivity{high, high, high}, nil, 100},
		{
			"many sessions bonus",
			[]domain.SuspiciousActivity{med},
			manySessions(11, "Berlin, DE"),
			35,
		},
		{
			"many locations bonus",
			nil,
			[]domain.Session{
				{Location: "Berlin, DE"}, {Location: "Paris, FR"},
				{Location: "Sydney, AU"}, {Location: "Tokyo, JP"},
			},
			15,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRiskScore(tt.findings, tt.sessions))
		})
	}
}

func manySessions(n int, location string) []domain.Session {
	out := make([]domain.Session, n)
	for i := range out {
		out[i] = domain.Session{Location: location}
	}
	return out
}

func TestDeviceFingerprint(t *testing.T) {
	const ua = "Mozilla/5.0 Chrome/120.0"

	// Same user agent, same /24 block: same device.
	assert.Equal(t,
		DeviceFingerprint(ua, "203.0.113.10"),
		DeviceFingerprint(ua, "203.0.113.200"),
	)

	// Different block or different agent: different device.
	assert.NotEqual(t,
		DeviceFingerprint(ua, "203.0.113.10"),
		DeviceFingerprint(ua, "203.0.114.10"),
	)
	assert.NotEqual(t,
		DeviceFingerprint(ua, "203.0.113.10"),
		DeviceFingerprint("Mozilla/5.0 Firefox/121.0", "203.0.113.10"),
	)
}

func TestBrowserFamily(t *testing.T) {
	tests := []struct{ ua, want string }{
		{"Mozilla/5.0 (X11; Linux) Chrome/120.0 Safari/537.36", "Chrome"},
		{"Mozilla/5.0 (X11; Linux) Gecko/20100101 Firefox/121.0", "Firefox"},
		{"Mozilla/5.0 (Macintosh) Version/17.0 Safari/605.1.15", "Safari"},
		{"Mozilla/5.0 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, browserFamily(tt.ua), tt.ua)
	}
}

func TestShouldAutoInvalidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("critical score alone", func(t *testing.T) {
		kill, signals := ShouldAutoInvalidate(domain.Session{RiskScore: 95}, nil, now)
		assert.True(t, kill)
		assert.Equal(t, []string{"critical_risk_score"}, signals)
	})

	t.Run("single signal is not enough", func(t *testing.T) {
		kill, _ := ShouldAutoInvalidate(domain.Session{RiskScore: 90, Browser: "Chrome"}, nil, now)
		assert.False(t, kill)
	})

	t.Run("two signals trigger", func(t *testing.T) {
		kill, signals := ShouldAutoInvalidate(domain.Session{RiskScore: 90, Browser: "curl/8.0"}, nil, now)
		assert.True(t, kill)
		assert.Contains(t, signals, "critical_risk_score")
		assert.Contains(t, signals, "bot_user_agent")
	})

	t.Run("conflicting locations plus dormancy", func(t *testing.T) {
		sess := domain.Session{
			ID: "a", Location: "Berlin, DE", Browser: "Chrome",
			RiskScore:    70,
			CreatedAt:    now.Add(-72 * time.Hour),
			LastActivity: now.Add(-10 * time.Minute),
			IsActive:     true,
		}
		sibling := domain.Session{
			ID: "b", Location: "Sydney, AU", Browser: "Chrome",
			LastActivity: now.Add(-12 * time.Minute),
			IsActive:     true,
		}
		kill, signals := ShouldAutoInvalidate(sess, []domain.Session{sess, sibling}, now)
		assert.True(t, kill)
		assert.Contains(t, signals, "dormant_reactivated")
		assert.Contains(t, signals, "conflicting_locations")
	})
}

func TestSessionOwnershipChecks(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	alice := registerUser(t, st, "alice@example.com", "correct horse battery")
	mallory := registerUser(t, st, "mallory@example.com", "correct horse battery")

	sess, err := st.Sessions.Create(ctx, alice, "203.0.113.10", "Chrome/120.0", "Berlin, DE", nil)
	require.NoError(t, err)

	// Foreign and missing ids are indistinguishable.
	_, err = st.Sessions.Get(ctx, mallory.ID, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = st.Sessions.Get(ctx, alice.ID, "01JZZZZZZZZZZZZZZZZZZZZZZZ")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.ErrorIs(t, st.Sessions.Invalidate(ctx, mallory.ID, sess.ID, "user_logout"), ErrSessionNotFound)
	require.NoError(t, st.Sessions.Invalidate(ctx, alice.ID, sess.ID, "user_logout"))

	// Invalidating again is a silent no-op.
	require.NoError(t, st.Sessions.Invalidate(ctx, alice.ID, sess.ID, "user_logout"))
}

func TestSecurityStatusWarnings(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	user := registerUser(t, st, "bob@example.com", "correct horse battery")

	status, err := st.Sessions.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, status.RiskLevel)
	assert.Zero(t, status.ActiveSessions)
	assert.Empty(t, status.Warnings)

	for i := range 11 {
		_, err := st.Sessions.Create(ctx, user, "203.0.113.10", "Chrome/120.0", "Berlin, DE", nil)
		require.NoError(t, err, "session %d", i)
	}

	status, err = st.Sessions.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, status.ActiveSessions)
	require.NotEmpty(t, status.Warnings)
	assert.Contains(t, status.Warnings[0], "11 active sessions")
}

func TestStatusReflectsHighestSessionRisk(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	user := registerUser(t, st, "carol@example.com", "correct horse battery")

	high := []domain.SuspiciousActivity{
		{Type: domain.ActivityImpossibleTravel, Severity: domain.SeverityHigh},
		{Type: domain.ActivityHighVelocity, Severity: domain.SeverityHigh},
	}
	_, err := st.Sessions.Create(ctx, user, "203.0.113.10", "Chrome/120.0", "Berlin, DE", nil)
	require.NoError(t, err)
	sess, err := st.Sessions.Create(ctx, user, "198.51.100.5", "Chrome/120.0", "Sydney, AU", high)
	require.NoError(t, err)
	assert.Equal(t, 80, sess.RiskScore)
	assert.True(t, sess.IsSuspicious)

	status, err := st.Sessions.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, status.RiskLevel)
}

func TestInvalidateAllOthersKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	user := registerUser(t, st, "dave@example.com", "correct horse battery")

	var current domain.Session
	for range 3 {
		var err error
		current, err = st.Sessions.Create(ctx, user, "203.0.113.10", "Chrome/120.0", "Berlin, DE", nil)
		require.NoError(t, err)
	}

	n, err := st.Sessions.InvalidateAllOthers(ctx, user.ID, current.ID, "remote_revoke")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := st.Sessions.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, current.ID, active[0].ID)
}
