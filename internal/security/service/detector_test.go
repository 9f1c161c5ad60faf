package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/geo"
	"github.com/vigil-sec/vigil/pkg/idx"
)

// seedSession inserts a historical session row directly.
func seedSession(t *testing.T, st *stack, userID, ip, ua string, location string, at time.Time) domain.Session {
	t.Helper()
	sess := domain.Session{
		ID:                idx.New().String(),
		UserID:            userID,
		DeviceFingerprint: DeviceFingerprint(ua, ip),
		IPAddress:         ip,
		Location:          location,
		Browser:           browserFamily(ua),
		CreatedAt:         at,
		LastActivity:      at,
		IsActive:          true,
	}
	require.NoError(t, st.Store.Sessions().CreateSession(context.Background(), sess))
	return sess
}

func findingTypes(findings []domain.SuspiciousActivity) []domain.ActivityType {
	out := make([]domain.ActivityType, len(findings))
	for i, f := range findings {
		out[i] = f.Type
	}
	return out
}

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0"

func detect(st *stack, user domain.User, ip, ua string) []domain.SuspiciousActivity {
	loc, _ := st.Geo.Resolve(context.Background(), ip)
	return st.Detector.Detect(context.Background(), LoginContext{
		User:              user,
		IPAddress:         ip,
		UserAgent:         ua,
		DeviceFingerprint: DeviceFingerprint(ua, ip),
		Location:          loc,
	})
}

func TestDetectFirstLoginIsClean(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "alice@example.com", "correct horse battery")

	findings := detect(st, user, "203.0.113.10", chromeUA)
	assert.Empty(t, findings)
}

func TestDetectNewDevice(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "bob@example.com", "correct horse battery")
	seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", st.Now.Add(-24*time.Hour))

	// Same device again: clean.
	findings := detect(st, user, "203.0.113.10", chromeUA)
	assert.NotContains(t, findingTypes(findings), domain.ActivityNewDevice)

	// Different browser from a different block: new device.
	findings = detect(st, user, "203.0.113.20", "Mozilla/5.0 Firefox/121.0")
	assert.Contains(t, findingTypes(findings), domain.ActivityNewDevice)
}

func TestDetectImpossibleTravel(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "carol@example.com", "correct horse battery")

	// Active in Berlin half an hour ago, now appearing in Sydney:
	// ~16,000 km in 30 minutes.
	seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", st.Now.Add(-30*time.Minute))

	findings := detect(st, user, "198.51.100.5", chromeUA)
	types := findingTypes(findings)
	require.Contains(t, types, domain.ActivityImpossibleTravel)

	for _, f := range findings {
		if f.Type == domain.ActivityImpossibleTravel {
			assert.Equal(t, domain.SeverityHigh, f.Severity)
		}
	}
}

func TestDetectPlausibleTravelIsClean(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "dave@example.com", "correct horse battery")

	// Berlin two days ago, Sydney now: slow enough to be a flight.
	seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", st.Now.Add(-48*time.Hour))

	findings := detect(st, user, "198.51.100.5", chromeUA)
	assert.NotContains(t, findingTypes(findings), domain.ActivityImpossibleTravel)
}

func TestDetectUnusualTime(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "erin@example.com", "correct horse battery")

	// A week of logins around 09:00 UTC.
	for i := 1; i <= 7; i++ {
		at := time.Date(2025, 5, 24+i, 9, 0, 0, 0, time.UTC)
		seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", at)
	}

	// 10:30 is within reach of the 09:00 habit; 21:00 is not.
	st.Now = time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	findings := detect(st, user, "203.0.113.10", chromeUA)
	assert.NotContains(t, findingTypes(findings), domain.ActivityUnusualTime)

	st.Now = time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)
	findings = detect(st, user, "203.0.113.10", chromeUA)
	assert.Contains(t, findingTypes(findings), domain.ActivityUnusualTime)
}

func TestDetectUnusualTimeNeedsBaseline(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "frank@example.com", "correct horse battery")

	// Too little history for a baseline: the rule stays quiet no matter
	// the hour.
	seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", st.Now.Add(-24*time.Hour))
	st.Now = time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC)

	findings := detect(st, user, "203.0.113.10", chromeUA)
	assert.NotContains(t, findingTypes(findings), domain.ActivityUnusualTime)
}

func TestDetectHighVelocity(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "grace@example.com", "correct horse battery")

	for i, ip := range []string{"203.0.113.10", "203.0.113.20", "198.51.100.5"} {
		seedSession(t, st, user.ID, ip, chromeUA, "", st.Now.Add(-time.Duration(i+1)*10*time.Minute))
	}

	// Fourth distinct address within the hour.
	findings := detect(st, user, "192.0.2.77", chromeUA)
	assert.Contains(t, findingTypes(findings), domain.ActivityHighVelocity)
}

func TestDetectTorExitNode(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "heidi@example.com", "correct horse battery")

	// Rule disabled without a list.
	findings := detect(st, user, "203.0.113.10", chromeUA)
	assert.NotContains(t, findingTypes(findings), domain.ActivityTorExitNode)

	st.Detector.TorExits = map[string]struct{}{"203.0.113.10": {}}
	findings = detect(st, user, "203.0.113.10", chromeUA)
	assert.Contains(t, findingTypes(findings), domain.ActivityTorExitNode)
}

func TestDetectCredentialStuffing(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	user := registerUser(t, st, "ivan@example.com", "correct horse battery")

	// Five distinct identifiers probed from one address within the hour.
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		st.Audit.Record(ctx, domain.AuditEvent{
			Email:       email,
			IPAddress:   "192.0.2.66",
			EventType:   domain.EventLoginFailed,
			Description: "login failed: wrong password",
		})
	}

	findings := detect(st, user, "192.0.2.66", chromeUA)
	assert.Contains(t, findingTypes(findings), domain.ActivityCredentialStuffing)
}

func TestAggregateRiskLevel(t *testing.T) {
	high := domain.SuspiciousActivity{Severity: domain.SeverityHigh}
	med := domain.SuspiciousActivity{Severity: domain.SeverityMedium}
	low := domain.SuspiciousActivity{Severity: domain.SeverityLow}

	assert.Equal(t, domain.RiskLow, domain.AggregateRiskLevel(nil))
	assert.Equal(t, domain.RiskLow, domain.AggregateRiskLevel([]domain.SuspiciousActivity{low}))
	assert.Equal(t, domain.RiskMedium, domain.AggregateRiskLevel([]domain.SuspiciousActivity{med}))
	assert.Equal(t, domain.RiskHigh, domain.AggregateRiskLevel([]domain.SuspiciousActivity{high}))
	assert.Equal(t, domain.RiskHigh, domain.AggregateRiskLevel([]domain.SuspiciousActivity{low, low}))
}

func TestDetectDegradesWithoutCoordinates(t *testing.T) {
	st := newStack(t)
	user := registerUser(t, st, "judy@example.com", "correct horse battery")
	seedSession(t, st, user.ID, "203.0.113.10", chromeUA, "Berlin, DE", st.Now.Add(-10*time.Minute))

	// The attempt's address is unknown to the resolver, so the travel
	// rule cannot run and must stay quiet.
	findings := st.Detector.Detect(context.Background(), LoginContext{
		User:              user,
		IPAddress:         "192.0.2.99",
		UserAgent:         chromeUA,
		DeviceFingerprint: DeviceFingerprint(chromeUA, "192.0.2.99"),
		Location:          geo.Location{},
	})
	assert.NotContains(t, findingTypes(findings), domain.ActivityImpossibleTravel)
}
