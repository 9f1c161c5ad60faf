package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/idx"
)

// Risk scoring weights. Finding weights are additive and the total is
// capped at 100.
const (
	riskWeightHigh   = 40
	riskWeightMedium = 20
	riskWeightLow    = 5

	riskWeightManySessions      = 15
	riskWeightManyLocations     = 15
	manySessionsThreshold       = 10
	manyLocationsThreshold      = 3
	autoInvalidateScore         = 95
	autoInvalidateSignalMinimum = 2
	dormancyThreshold           = 48 * time.Hour
)

// InvalidationReasonAuto marks sessions terminated by the engine itself,
// InvalidationReasonCleanup those expired by the inactivity sweep.
const (
	InvalidationReasonAuto    = "automatic_security_invalidation"
	InvalidationReasonCleanup = "long_inactivity_cleanup"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session does not belong to user")
)

// SessionService owns the session lifecycle. All mutation goes through
// here so every termination carries a reason and an audit event.
type SessionService struct {
	Store  store.Store
	Audit  *AuditService
	Notify *Notifier
	Log    *slog.Logger

	now func() time.Time
}

func (s *SessionService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Create opens a new session for a completed login. Re-login always
// creates a fresh row; invalidated sessions are never revived.
func (s *SessionService) Create(ctx context.Context, user domain.User, ip, userAgent, location string, findings []domain.SuspiciousActivity) (domain.Session, error) {
	now := s.clock().UTC()

	active, err := s.Store.Sessions().ListActiveSessions(ctx, user.ID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to list active sessions: %w", err)
	}

	sess := domain.Session{
		ID:                idx.New().String(),
		UserID:            user.ID,
		DeviceFingerprint: DeviceFingerprint(userAgent, ip),
		IPAddress:         ip,
		Location:          location,
		Browser:           browserFamily(userAgent),
		CreatedAt:         now,
		LastActivity:      now,
		RiskScore:         ComputeRiskScore(findings, active),
		IsSuspicious:      len(findings) > 0,
		IsActive:          true,
	}

	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Touch advances last_activity. Inactive sessions are left untouched;
// concurrent touches are last-write-wins by design.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	if err := s.Store.Sessions().TouchSession(ctx, sessionID, s.clock().UTC()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Get returns one session after verifying ownership.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.UserID != userID {
		// Indistinguishable from absence so ids cannot be probed.
		return domain.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Invalidate terminates one of the user's sessions. Invalidating an
// already-inactive session is a silent no-op.
func (s *SessionService) Invalidate(ctx context.Context, userID, sessionID, reason string) error {
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	changed, err := s.Store.Sessions().InvalidateSession(ctx, sess.ID, reason, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if !changed {
		return nil
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		IPAddress:   sess.IPAddress,
		EventType:   domain.EventSessionInvalidated,
		Description: "session invalidated",
		Metadata:    domain.InvalidationMetadata{SessionID: sess.ID, Reason: reason},
		Success:     true,
	})
	return nil
}

// InvalidateAllOthers terminates every active session except the caller's
// current one and returns how many were closed.
func (s *SessionService) InvalidateAllOthers(ctx context.Context, userID, currentSessionID, reason string) (int, error) {
	n, err := s.Store.Sessions().InvalidateAllOthers(ctx, userID, currentSessionID, reason, s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	if n > 0 {
		s.Audit.Record(ctx, domain.AuditEvent{
			UserID:      userID,
			EventType:   domain.EventSessionsBulkRevoked,
			Description: fmt.Sprintf("%d other sessions revoked", n),
			Metadata:    domain.InvalidationMetadata{Reason: reason, Count: n},
			Success:     true,
		})
	}
	return n, nil
}

// ListActive returns the user's active sessions, most recent first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.Store.Sessions().ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Status derives the account's aggregate security view from its active
// sessions. Nothing here is stored.
func (s *SessionService) Status(ctx context.Context, userID string) (domain.SecurityStatus, error) {
	active, err := s.Store.Sessions().ListActiveSessions(ctx, userID)
	if err != nil {
		return domain.SecurityStatus{}, fmt.Errorf("failed to list sessions: %w", err)
	}

	maxScore := 0
	countries := make(map[string]struct{})
	for _, sess := range active {
		if sess.RiskScore > maxScore {
			maxScore = sess.RiskScore
		}
		if c := countryOf(sess.Location); c != "" {
			countries[c] = struct{}{}
		}
	}

	status := domain.SecurityStatus{
		RiskLevel:      domain.RiskBucket(maxScore),
		ActiveSessions: len(active),
	}
	if len(active) > manySessionsThreshold {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("%d active sessions, consider revoking ones you do not recognize", len(active)))
	}
	if len(countries) > manyLocationsThreshold {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("active sessions from %d different countries", len(countries)))
	}
	return status, nil
}

// ComputeRiskScore folds detection findings and account-wide session
// pressure into a 0-100 score.
func ComputeRiskScore(findings []domain.SuspiciousActivity, activeSessions []domain.Session) int {
	score := 0
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityHigh:
			score += riskWeightHigh
		case domain.SeverityMedium:
			score += riskWeightMedium
		default:
			score += riskWeightLow
		}
	}

	if len(activeSessions) > manySessionsThreshold {
		score += riskWeightManySessions
	}
	locations := make(map[string]struct{})
	for _, sess := range activeSessions {
		if sess.Location != "" {
			locations[sess.Location] = struct{}{}
		}
	}
	if len(locations) > manyLocationsThreshold {
		score += riskWeightManyLocations
	}

	if score > 100 {
		score = 100
	}
	return score
}

// AutoInvalidationSignals counts the independent danger signals on a
// session. Two or more, or a risk score at or above 95 on its own,
// justify automatic invalidation.
func AutoInvalidationSignals(sess domain.Session, siblings []domain.Session, now time.Time) []string {
	var signals []string

	if sess.RiskScore >= domain.RiskThresholdCritical {
		signals = append(signals, "critical_risk_score")
	}

	// Dormant-then-reactivated, approximated from the two timestamps we
	// keep: a session well past the dormancy threshold that was touched
	// again within the last hour.
	if now.Sub(sess.CreatedAt) > dormancyThreshold && now.Sub(sess.LastActivity) < time.Hour {
		signals = append(signals, "dormant_reactivated")
	}

	// Conflicting locations: an active sibling in a different country
	// touched within the same five minutes.
	for _, sib := range siblings {
		if sib.ID == sess.ID || !sib.IsActive {
			continue
		}
		sc, bc := countryOf(sess.Location), countryOf(sib.Location)
		if sc == "" || bc == "" || sc == bc {
			continue
		}
		gap := sess.LastActivity.Sub(sib.LastActivity)
		if gap < 0 {
			gap = -gap
		}
		if gap < 5*time.Minute {
			signals = append(signals, "conflicting_locations")
			break
		}
	}

	if isBotUserAgent(sess.Browser) {
		signals = append(signals, "bot_user_agent")
	}
	return signals
}

// ShouldAutoInvalidate applies the signal policy to a session.
func ShouldAutoInvalidate(sess domain.Session, siblings []domain.Session, now time.Time) (bool, []string) {
	if sess.RiskScore >= autoInvalidateScore {
		return true, []string{"critical_risk_score"}
	}
	signals := AutoInvalidationSignals(sess, siblings, now)
	return len(signals) >= autoInvalidateSignalMinimum, signals
}

// DeviceFingerprint derives a stable device identity from the user agent
// and the coarse network block. The full address is excluded so DHCP
// churn within a block does not look like a new device.
func DeviceFingerprint(userAgent, ip string) string {
	block := ip
	if parsed := net.ParseIP(ip); parsed != nil {
		if v4 := parsed.To4(); v4 != nil {
			block = (&net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).String()
		} else {
			block = (&net.IPNet{IP: parsed.Mask(net.CIDRMask(48, 128)), Mask: net.CIDRMask(48, 128)}).String()
		}
	}
	sum := sha256.Sum256([]byte(userAgent + "|" + block))
	return hex.EncodeToString(sum[:16])
}

// browserFamily extracts a coarse browser label from the user agent for
// display in the session list.
func browserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome/"):
		return "Chrome"
	case strings.Contains(ua, "firefox/"):
		return "Firefox"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case userAgent == "":
		return "Unknown"
	default:
		if len(userAgent) > 40 {
			return userAgent[:40]
		}
		return userAgent
	}
}

func isBotUserAgent(uaOrBrowser string) bool {
	ua := strings.ToLower(uaOrBrowser)
	if ua == "" {
		return true
	}
	for _, marker := range []string{"bot", "curl", "wget", "python-requests", "go-http-client", "scrapy", "headless"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// countryOf pulls the country code out of a "City, CC" location label.
func countryOf(location string) string {
	if i := strings.LastIndex(location, ", "); i >= 0 {
		return location[i+2:]
	}
	return location
}
