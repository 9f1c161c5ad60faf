package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/idx"
)

// AuditService appends immutable security events. Recording is strictly
// best effort: a failed write must never abort the security action that
// produced the event, so Record has no error return. A failed write is
// logged, escalated to the operator channel, and a meta-event is
// attempted so trail gaps stay visible.
type AuditService struct {
	Store  store.Store
	Notify *Notifier
	Log    *slog.Logger
}

// Record stamps id and timestamp and appends the event. Safe to call with
// a half-filled event; only IPAddress, EventType and Description are
// expected from the caller.
func (s *AuditService) Record(ctx context.Context, e domain.AuditEvent) {
	e.ID = idx.New().String()
	e.CreatedAt = time.Now().UTC()
	if e.RiskLevel == "" {
		e.RiskLevel = domain.RiskLow
	}

	if err := s.Store.AuditEvents().InsertAuditEvent(ctx, e); err != nil {
		s.Log.ErrorContext(ctx, "audit write failed",
			"event_type", e.EventType,
			"user_id", e.UserID,
			"error", err,
		)
		s.recordWriteFailure(ctx, e, err)
	}
}

// recordWriteFailure escalates a failed audit write. The operator alert
// goes out first over the mail path, which does not share fate with the
// store; the critical meta-event is then attempted in the trail itself so
// the gap is queryable once the store recovers.
func (s *AuditService) recordWriteFailure(ctx context.Context, failed domain.AuditEvent, cause error) {
	details := map[string]any{
		"failed_event_type": string(failed.EventType),
		"failed_user_id":    failed.UserID,
		"error":             cause.Error(),
	}
	description := fmt.Sprintf("failed to persist %s event", failed.EventType)

	if s.Notify != nil {
		s.Notify.NotifyCritical(ctx, string(domain.EventAuditWriteFailed), description, details)
	}

	meta := domain.AuditEvent{
		ID:          idx.New().String(),
		IPAddress:   failed.IPAddress,
		EventType:   domain.EventAuditWriteFailed,
		Description: description,
		Metadata:    details,
		RiskLevel:   domain.RiskCritical,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Store.AuditEvents().InsertAuditEvent(ctx, meta); err != nil {
		s.Log.ErrorContext(ctx, "audit meta-event write failed", "error", err)
	}
}

// History returns a user's newest events for the account activity view.
func (s *AuditService) History(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.Store.AuditEvents().ListAuditEventsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
