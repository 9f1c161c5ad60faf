package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
)

var (
	ErrInvalidIPAddress = errors.New("invalid IP address")
	ErrUserNotFound     = errors.New("user not found")
)

// AdminService executes operator security actions. Every action lands in
// the audit trail with the acting admin's id.
type AdminService struct {
	Store  store.Store
	Audit  *AuditService
	Notify *Notifier
	Log    *slog.Logger

	now func() time.Time
}

func (s *AdminService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// BanIP blocks an address at the login boundary. A zero duration means
// permanent. Re-banning an address refreshes its record.
func (s *AdminService) BanIP(ctx context.Context, actorID, ip, reason string, duration time.Duration) error {
	if net.ParseIP(ip) == nil {
		return ErrInvalidIPAddress
	}

	now := s.clock().UTC()
	ban := domain.BannedIP{
		IPAddress: ip,
		Reason:    reason,
		BannedBy:  actorID,
		BannedAt:  now,
		IsActive:  true,
	}
	if duration > 0 {
		expires := now.Add(duration)
		ban.ExpiresAt = &expires
	}

	if err := s.Store.BannedIPs().UpsertBan(ctx, ban); err != nil {
		return fmt.Errorf("failed to store ban: %w", err)
	}

	meta := domain.SecurityActionMetadata{Action: "ban_ip", Target: ip, ActorID: actorID}
	if duration > 0 {
		meta.Duration = duration.String()
	}
	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      actorID,
		IPAddress:   ip,
		EventType:   domain.EventIPBanned,
		Description: "address banned: " + reason,
		Metadata:    meta,
		RiskLevel:   domain.RiskHigh,
		Success:     true,
	})
	return nil
}

// LiftBan deactivates an address ban.
func (s *AdminService) LiftBan(ctx context.Context, actorID, ip string) error {
	if _, err := s.Store.BannedIPs().GetBan(ctx, ip); errors.Is(err, store.ErrNotFound) {
		return store.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to look up ban: %w", err)
	}

	if err := s.Store.BannedIPs().LiftBan(ctx, ip); err != nil {
		return fmt.Errorf("failed to lift ban: %w", err)
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      actorID,
		IPAddress:   ip,
		EventType:   domain.EventIPBanned,
		Description: "address ban lifted",
		Metadata:    domain.SecurityActionMetadata{Action: "lift_ban", Target: ip, ActorID: actorID},
		Success:     true,
	})
	return nil
}

// SuspendUser blocks an account from logging in and terminates all its
// active sessions.
func (s *AdminService) SuspendUser(ctx context.Context, actorID, userID, reason string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if err := s.Store.Users().SetSuspended(ctx, userID, true); err != nil {
		return fmt.Errorf("failed to suspend user: %w", err)
	}

	now := s.clock().UTC()
	revoked, err := s.Store.Sessions().InvalidateAllOthers(ctx, userID, "", "account_suspended", now)
	if err != nil {
		// The suspension itself stuck; remaining sessions can no longer
		// outlive their token TTL.
		s.Log.ErrorContext(ctx, "failed to revoke sessions of suspended user", "user_id", userID, "error", err)
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		Email:       user.Email,
		EventType:   domain.EventUserSuspended,
		Description: "account suspended: " + reason,
		Metadata: domain.SecurityActionMetadata{
			Action: "suspend_user", Target: userID, ActorID: actorID,
		},
		RiskLevel: domain.RiskHigh,
		Success:   true,
	})
	if revoked > 0 {
		s.Audit.Record(ctx, domain.AuditEvent{
			UserID:      userID,
			EventType:   domain.EventSessionsBulkRevoked,
			Description: fmt.Sprintf("%d sessions revoked on suspension", revoked),
			Metadata:    domain.InvalidationMetadata{Reason: "account_suspended", Count: revoked},
			Success:     true,
		})
	}
	return nil
}

// UnsuspendUser restores a suspended account.
func (s *AdminService) UnsuspendUser(ctx context.Context, actorID, userID string) error {
	if _, err := s.Store.Users().GetUserByID(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	} else if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if err := s.Store.Users().SetSuspended(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to unsuspend user: %w", err)
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      userID,
		EventType:   domain.EventUserSuspended,
		Description: "account suspension lifted",
		Metadata: domain.SecurityActionMetadata{
			Action: "unsuspend_user", Target: userID, ActorID: actorID,
		},
		Success: true,
	})
	return nil
}

// InvalidateSession terminates any user's session by id, bypassing the
// ownership check.
func (s *AdminService) InvalidateSession(ctx context.Context, actorID, sessionID, reason string) error {
	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}

	changed, err := s.Store.Sessions().InvalidateSession(ctx, sessionID, reason, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if !changed {
		return nil
	}

	s.Audit.Record(ctx, domain.AuditEvent{
		UserID:      sess.UserID,
		IPAddress:   sess.IPAddress,
		EventType:   domain.EventSessionInvalidated,
		Description: "session invalidated by operator",
		Metadata: domain.SecurityActionMetadata{
			Action: "invalidate_session", Target: sessionID, ActorID: actorID,
		},
		RiskLevel: domain.RiskMedium,
		Success:   true,
	})
	return nil
}
