package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
)

// Inactivity TTL after which an active session is expired by the sweep.
const DefaultSessionTTL = 7 * 24 * time.Hour

// CleanupService periodically expires stale sessions and auto-invalidates
// dangerous ones. Each step is independent and idempotent, so overlapping
// or repeated runs are harmless.
type CleanupService struct {
	Store    store.Store
	Sessions *SessionService
	Audit    *AuditService
	Notify   *Notifier
	Logger   *slog.Logger
	Interval time.Duration
	TTL      time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// NewCleanupService creates the scheduler. Interval defaults to 1 hour,
// TTL to 7 days.
func NewCleanupService(st store.Store, sessions *SessionService, audit *AuditService, notify *Notifier, logger *slog.Logger, interval, ttl time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &CleanupService{
		Store:    st,
		Sessions: sessions,
		Audit:    audit,
		Notify:   notify,
		Logger:   logger,
		Interval: interval,
		TTL:      ttl,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *CleanupService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Start begins the background worker. Non-blocking; call Stop to shut
// down gracefully.
func (s *CleanupService) Start() {
	go s.run()
	s.Logger.Info("cleanup service started", "interval", s.Interval, "session_ttl", s.TTL)
}

// Stop shuts the worker down, blocking until any in-progress sweep ends.
func (s *CleanupService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("cleanup service stopped")
}

func (s *CleanupService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep immediately on startup so a restart never extends stale
	// sessions past their TTL.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *CleanupService) sweep() {
	summary := s.RunOnce(context.Background())
	s.Logger.Info("cleanup sweep finished",
		"sessions_expired", summary.SessionsExpired,
		"suspicious_found", summary.SuspiciousFound,
		"sessions_invalidated", summary.SessionsInvalidated,
		"users_affected", summary.UsersAffected,
		"duration_ms", summary.DurationMilliseconds,
	)
}

// RunOnce performs one full sweep and returns its summary. Also invoked
// directly through the system trigger endpoint. Step failures are logged
// and skipped; one bad row never aborts the sweep.
func (s *CleanupService) RunOnce(ctx context.Context) domain.CleanupSummary {
	started := s.clock()
	now := started.UTC()
	var summary domain.CleanupSummary
	affected := make(map[string]int) // user id -> auto-invalidated count

	// Step 1: expire sessions idle past the TTL.
	stale, err := s.Store.Sessions().ListActiveInactiveSince(ctx, now.Add(-s.TTL))
	if err != nil {
		s.Logger.Error("cleanup: failed to list stale sessions", "error", err)
	}
	for _, sess := range stale {
		changed, err := s.Store.Sessions().InvalidateSession(ctx, sess.ID, InvalidationReasonCleanup, now)
		if err != nil {
			s.Logger.Error("cleanup: failed to expire session", "session_id", sess.ID, "error", err)
			continue
		}
		if changed {
			summary.SessionsExpired++
			s.Audit.Record(ctx, domain.AuditEvent{
				UserID:      sess.UserID,
				IPAddress:   sess.IPAddress,
				EventType:   domain.EventSessionInvalidated,
				Description: "session expired after prolonged inactivity",
				Metadata:    domain.InvalidationMetadata{SessionID: sess.ID, Reason: InvalidationReasonCleanup},
				Success:     true,
			})
		}
	}

	// Step 2: review flagged sessions and auto-invalidate the dangerous
	// ones.
	flagged, err := s.Store.Sessions().ListFlaggedSessions(ctx, domain.RiskThresholdHigh)
	if err != nil {
		s.Logger.Error("cleanup: failed to list flagged sessions", "error", err)
	}
	summary.SuspiciousFound = len(flagged)

	siblingsByUser := make(map[string][]domain.Session)
	for _, sess := range flagged {
		siblings, ok := siblingsByUser[sess.UserID]
		if !ok {
			siblings, err = s.Store.Sessions().ListActiveSessions(ctx, sess.UserID)
			if err != nil {
				s.Logger.Error("cleanup: failed to list sibling sessions", "user_id", sess.UserID, "error", err)
				continue
			}
			siblingsByUser[sess.UserID] = siblings
		}

		kill, signals := ShouldAutoInvalidate(sess, siblings, now)
		if !kill {
			continue
		}

		changed, err := s.Store.Sessions().InvalidateSession(ctx, sess.ID, InvalidationReasonAuto, now)
		if err != nil {
			s.Logger.Error("cleanup: failed to auto-invalidate session", "session_id", sess.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}

		summary.SessionsInvalidated++
		affected[sess.UserID]++
		s.Audit.Record(ctx, domain.AuditEvent{
			UserID:      sess.UserID,
			IPAddress:   sess.IPAddress,
			EventType:   domain.EventSessionInvalidated,
			Description: "session auto-invalidated on danger signals",
			Metadata: map[string]any{
				"session_id": sess.ID,
				"reason":     InvalidationReasonAuto,
				"signals":    signals,
				"risk_score": sess.RiskScore,
			},
			RiskLevel: domain.RiskCritical,
			Success:   true,
		})
	}

	// Step 3: tell affected users they were signed out.
	for userID, count := range affected {
		user, err := s.Store.Users().GetUserByID(ctx, userID)
		if err != nil {
			s.Logger.Error("cleanup: failed to load user for notification", "user_id", userID, "error", err)
			continue
		}
		s.Notify.SessionsInvalidated(ctx, user, count, InvalidationReasonAuto)
	}
	summary.UsersAffected = len(affected)

	summary.DurationMilliseconds = int(s.clock().Sub(started).Milliseconds())
	s.Audit.Record(ctx, domain.AuditEvent{
		IPAddress:   "system",
		EventType:   domain.EventCleanupSummary,
		Description: "cleanup sweep completed",
		Metadata:    summary,
		Success:     true,
	})
	return summary
}
