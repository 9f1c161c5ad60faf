package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

// Mailer delivers a single plain-text message. Implementations must be
// safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier turns security findings into user-facing notifications and
// critical internal failures into operator alerts. Dispatch is
// fire-and-forget from the caller's perspective: delivery failures are
// logged, never propagated, so a broken mail path cannot block a login
// or an invalidation.
type Notifier struct {
	Mailer Mailer
	Log    *slog.Logger

	// OperatorEmail receives critical alerts. Empty means alerts stop at
	// the log.
	OperatorEmail string
}

// SuspiciousLogin notifies the user about anomalous login findings. Only
// high-severity findings trigger mail; lower severities stay in the audit
// trail to avoid alert fatigue.
func (n *Notifier) SuspiciousLogin(ctx context.Context, user domain.User, ip, location string, findings []domain.SuspiciousActivity) {
	if !domain.HasHighSeverity(findings) {
		return
	}

	var b strings.Builder
	b.WriteString("We noticed a sign-in to your account that looks unusual.\n\n")
	fmt.Fprintf(&b, "IP address: %s\n", ip)
	if location != "" {
		fmt.Fprintf(&b, "Location: %s\n", location)
	}
	b.WriteString("\nWhat we flagged:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "  - %s\n", f.Description)
	}
	b.WriteString("\nIf this was you, no action is needed. Otherwise, change your password and review your active sessions.\n")

	n.send(ctx, user.Email, "Unusual sign-in to your account", b.String())
}

// SessionsInvalidated notifies the user that sessions were terminated
// automatically.
func (n *Notifier) SessionsInvalidated(ctx context.Context, user domain.User, count int, reason string) {
	body := fmt.Sprintf(
		"For your protection we signed you out of %d session(s).\n\nReason: %s\n\nSign in again to continue. If you did not expect this, change your password.\n",
		count, humanReason(reason),
	)
	n.send(ctx, user.Email, "You were signed out for security reasons", body)
}

// LockedOut notifies the user that their account is temporarily locked.
func (n *Notifier) LockedOut(ctx context.Context, email string, retryMinutes int) {
	body := fmt.Sprintf(
		"Repeated failed sign-in attempts locked your account temporarily.\n\nYou can try again in about %d minute(s). If these attempts were not yours, change your password once the lock expires.\n",
		retryMinutes,
	)
	n.send(ctx, email, "Your account is temporarily locked", body)
}

// NotifyCritical alerts the operator channel about an internal security
// failure, such as the audit trail refusing writes. It always logs at
// error level; mail is sent on top when an operator address is
// configured. The mail path must not depend on the store, since the
// store being down is a prime reason to be here.
func (n *Notifier) NotifyCritical(ctx context.Context, eventType, description string, metadata map[string]any) {
	n.Log.ErrorContext(ctx, "critical security event",
		"event_type", eventType,
		"description", description,
		"metadata", metadata,
	)

	if n.OperatorEmail == "" {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Critical event: %s\n\n%s\n", eventType, description)
	if len(metadata) > 0 {
		b.WriteString("\nDetails:\n")
		for k, v := range metadata {
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
	}
	n.send(ctx, n.OperatorEmail, "[vigil] critical: "+eventType, b.String())
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) {
	if err := n.Mailer.Send(ctx, to, subject, body); err != nil {
		n.Log.WarnContext(ctx, "notification delivery failed",
			"to", to,
			"subject", subject,
			"error", err,
		)
	}
}

func humanReason(reason string) string {
	switch reason {
	case "automatic_security_invalidation":
		return "suspicious activity was detected on your account"
	case "long_inactivity_cleanup":
		return "the session was inactive for too long"
	default:
		return strings.ReplaceAll(reason, "_", " ")
	}
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port
	From string
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.From, to, subject, body)
	if err := smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer writes notifications to the log instead of sending them. The
// default in development and the fallback when no relay is configured.
type LogMailer struct {
	Log *slog.Logger
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.Log.InfoContext(ctx, "notification (log delivery)",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
