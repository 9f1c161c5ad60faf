package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/geo"
	"github.com/vigil-sec/vigil/internal/security/store"
)

const (
	// Travel faster than this between two logins is physically impossible.
	impossibleTravelKmh = 1000.0

	// More distinct IPs than this within an hour flags high velocity.
	velocityIPLimit = 3

	// Login hour deviation (in standard deviations) that counts as unusual.
	unusualTimeSigma = 2.0

	// Minimum history needed before the time-of-day baseline is trusted.
	unusualTimeMinSamples = 5

	// Distinct identifiers from one IP within the stuffing window that
	// flag a credential stuffing pattern.
	stuffingEmailLimit  = 5
	stuffingWindow      = time.Hour
	recentSessionsLimit = 50
)

// Detector evaluates one login attempt against the user's session history
// and flags anomalies. Every rule degrades to "no finding" when the data
// it needs is unavailable; detection never blocks a login.
type Detector struct {
	Store    store.Store
	Geo      geo.Resolver
	Log      *slog.Logger
	TorExits map[string]struct{} // known Tor exit addresses, nil disables the rule

	now func() time.Time
}

func (d *Detector) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// LoginContext carries the request-scoped facts a detection run needs.
type LoginContext struct {
	User              domain.User
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          geo.Location
}

// Detect runs every rule and returns the findings. An empty slice means
// the attempt looked normal.
func (d *Detector) Detect(ctx context.Context, lc LoginContext) []domain.SuspiciousActivity {
	now := d.clock().UTC()

	history, err := d.Store.Sessions().ListRecentSessions(ctx, lc.User.ID, recentSessionsLimit)
	if err != nil {
		// Without history only the history-free rules can run.
		d.Log.WarnContext(ctx, "detector: session history unavailable", "error", err)
		history = nil
	}

	var findings []domain.SuspiciousActivity
	add := func(f *domain.SuspiciousActivity) {
		if f != nil {
			findings = append(findings, *f)
		}
	}

	add(d.checkNewDevice(lc, history))
	add(d.checkImpossibleTravel(ctx, lc, history, now))
	add(d.checkUnusualTime(history, now))
	add(d.checkHighVelocity(lc, history, now))
	add(d.checkTorExit(lc))
	add(d.checkCredentialStuffing(ctx, lc, now))
	return findings
}

// checkNewDevice flags a device fingerprint never seen in the user's
// history. A user with no history at all (first login) is not flagged.
func (d *Detector) checkNewDevice(lc LoginContext, history []domain.Session) *domain.SuspiciousActivity {
	if len(history) == 0 {
		return nil
	}
	for _, s := range history {
		if s.DeviceFingerprint == lc.DeviceFingerprint {
			return nil
		}
	}
	return &domain.SuspiciousActivity{
		Type:        domain.ActivityNewDevice,
		Severity:    domain.SeverityMedium,
		Description: "sign-in from a device not seen before",
	}
}

// checkImpossibleTravel compares the attempt's coordinates against the
// most recent session that has coordinates and flags implied speeds above
// the threshold. Skipped when either side lacks coordinates.
func (d *Detector) checkImpossibleTravel(ctx context.Context, lc LoginContext, history []domain.Session, now time.Time) *domain.SuspiciousActivity {
	if !lc.Location.HasCoordinates {
		return nil
	}

	for _, prev := range history {
		if prev.IPAddress == lc.IPAddress || prev.Location == "" {
			continue
		}
		prevLoc, err := d.Geo.Resolve(ctx, prev.IPAddress)
		if err != nil || !prevLoc.HasCoordinates {
			return nil
		}

		elapsed := now.Sub(prev.LastActivity).Hours()
		if elapsed <= 0 {
			elapsed = 1.0 / 3600 // clamp to one second
		}
		distance := geo.DistanceKm(lc.Location, prevLoc)
		if speed := distance / elapsed; speed > impossibleTravelKmh {
			return &domain.SuspiciousActivity{
				Type:     domain.ActivityImpossibleTravel,
				Severity: domain.SeverityHigh,
				Description: fmt.Sprintf(
					"sign-in %.0f km from previous location %s, implying %.0f km/h travel",
					distance, prev.Location, speed),
			}
		}
		return nil // only the most recent located session is compared
	}
	return nil
}

// checkUnusualTime flags logins far outside the user's habitual hours.
// The baseline is the circular mean of historical login hours; fewer than
// unusualTimeMinSamples sessions means no baseline and no finding.
func (d *Detector) checkUnusualTime(history []domain.Session, now time.Time) *domain.SuspiciousActivity {
	if len(history) < unusualTimeMinSamples {
		return nil
	}

	// Hours wrap at midnight, so average on the unit circle.
	var sinSum, cosSum float64
	for _, s := range history {
		h := float64(s.CreatedAt.UTC().Hour()) + float64(s.CreatedAt.UTC().Minute())/60
		angle := h / 24 * 2 * math.Pi
		sinSum += math.Sin(angle)
		cosSum += math.Cos(angle)
	}
	n := float64(len(history))
	meanAngle := math.Atan2(sinSum/n, cosSum/n)

	// Circular standard deviation from the mean resultant length.
	r := math.Hypot(sinSum/n, cosSum/n)
	if r >= 0.999 {
		r = 0.999 // all samples identical, keep sigma non-zero
	}
	sigmaHours := math.Sqrt(-2*math.Log(r)) / (2 * math.Pi) * 24
	if sigmaHours < 1 {
		sigmaHours = 1
	}

	nowHour := float64(now.Hour()) + float64(now.Minute())/60
	nowAngle := nowHour / 24 * 2 * math.Pi
	diff := math.Abs(math.Mod(nowAngle-meanAngle+3*math.Pi, 2*math.Pi) - math.Pi)
	diffHours := diff / (2 * math.Pi) * 24

	if diffHours > unusualTimeSigma*sigmaHours {
		return &domain.SuspiciousActivity{
			Type:        domain.ActivityUnusualTime,
			Severity:    domain.SeverityLow,
			Description: fmt.Sprintf("sign-in at %02d:%02d UTC, outside the usual activity window", now.Hour(), now.Minute()),
		}
	}
	return nil
}

// checkHighVelocity flags more than velocityIPLimit distinct IPs used by
// the account within the last hour, counting this attempt's address.
func (d *Detector) checkHighVelocity(lc LoginContext, history []domain.Session, now time.Time) *domain.SuspiciousActivity {
	cutoff := now.Add(-time.Hour)
	ips := map[string]struct{}{lc.IPAddress: {}}
	for _, s := range history {
		if s.CreatedAt.After(cutoff) || s.LastActivity.After(cutoff) {
			ips[s.IPAddress] = struct{}{}
		}
	}
	if len(ips) > velocityIPLimit {
		return &domain.SuspiciousActivity{
			Type:        domain.ActivityHighVelocity,
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("account used from %d different addresses within one hour", len(ips)),
		}
	}
	return nil
}

// checkTorExit flags addresses on the configured Tor exit list. With no
// list loaded the rule is off.
func (d *Detector) checkTorExit(lc LoginContext) *domain.SuspiciousActivity {
	if d.TorExits == nil {
		return nil
	}
	if _, ok := d.TorExits[strings.TrimSpace(lc.IPAddress)]; !ok {
		return nil
	}
	return &domain.SuspiciousActivity{
		Type:        domain.ActivityTorExitNode,
		Severity:    domain.SeverityMedium,
		Description: "sign-in from a known Tor exit node",
	}
}

// checkCredentialStuffing flags source addresses trying many distinct
// identifiers, using the audit trail as its lookback.
func (d *Detector) checkCredentialStuffing(ctx context.Context, lc LoginContext, now time.Time) *domain.SuspiciousActivity {
	count, err := d.Store.AuditEvents().CountDistinctEmailsByIPSince(ctx, lc.IPAddress, now.Add(-stuffingWindow))
	if err != nil {
		d.Log.WarnContext(ctx, "detector: stuffing lookback unavailable", "error", err)
		return nil
	}
	if count < stuffingEmailLimit {
		return nil
	}
	return &domain.SuspiciousActivity{
		Type:        domain.ActivityCredentialStuffing,
		Severity:    domain.SeverityHigh,
		Description: fmt.Sprintf("source address attempted %d different accounts within an hour", count),
	}
}
