package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/geo"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/internal/security/store/drivers/sqlite"
	"github.com/vigil-sec/vigil/internal/security/throttle"
	"github.com/vigil-sec/vigil/pkg/jwtx"
)

// captureMailer records sent mail for assertions.
type captureMailer struct {
	mu   sync.Mutex
	sent []capturedMail
}

type capturedMail struct {
	To      string
	Subject string
	Body    string
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, capturedMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last() capturedMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// stack wires the full service graph over an in-memory database with a
// controllable clock.
type stack struct {
	Store     store.Store
	Auth      *AuthService
	TwoFactor *TwoFactorService
	Sessions  *SessionService
	Detector  *Detector
	Cleanup   *CleanupService
	Admin     *AdminService
	Audit     *AuditService
	Mailer    *captureMailer
	Geo       *geo.StaticResolver

	Now time.Time
}

func (st *stack) clock() time.Time { return st.Now }

func (st *stack) advance(d time.Duration) { st.Now = st.Now.Add(d) }

func newStack(t *testing.T) *stack {
	t.Helper()

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	log := slog.New(slog.DiscardHandler)
	mailer := &captureMailer{}
	resolver := geo.NewStaticResolver(map[string]geo.Location{
		"203.0.113.10": {Label: "Berlin, DE", Country: "DE", Latitude: 52.52, Longitude: 13.405, HasCoordinates: true},
		"203.0.113.20": {Label: "Berlin, DE", Country: "DE", Latitude: 52.50, Longitude: 13.40, HasCoordinates: true},
		"198.51.100.5": {Label: "Sydney, AU", Country: "AU", Latitude: -33.87, Longitude: 151.21, HasCoordinates: true},
	})

	st := &stack{
		Store:  db,
		Mailer: mailer,
		Geo:    resolver,
		Now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	notify := &Notifier{Mailer: mailer, Log: log, OperatorEmail: "ops@example.com"}
	st.Audit = &AuditService{Store: db, Notify: notify, Log: log}
	st.TwoFactor = &TwoFactorService{Store: db, Audit: st.Audit, Issuer: "Vigil", now: st.clock}
	st.Detector = &Detector{Store: db, Geo: resolver, Log: log, now: st.clock}
	st.Sessions = &SessionService{Store: db, Audit: st.Audit, Notify: notify, Log: log, now: st.clock}
	st.Admin = &AdminService{Store: db, Audit: st.Audit, Notify: notify, Log: log, now: st.clock}
	st.Cleanup = NewCleanupService(db, st.Sessions, st.Audit, notify, log, time.Hour, 0)
	st.Cleanup.now = st.clock

	limiter := throttle.NewLimiter(throttle.NewMemoryStore(), throttle.Config{})

	signer, _, err := jwtx.NewKeyPair("vigil-test")
	require.NoError(t, err)

	st.Auth = &AuthService{
		Store:     db,
		Throttle:  limiter,
		TwoFactor: st.TwoFactor,
		Detector:  st.Detector,
		Sessions:  st.Sessions,
		Audit:     st.Audit,
		Notify:    notify,
		Signer:    signer,
		Geo:       resolver,
		Log:       log,
		Issuer:    "vigil-test",
		now:       st.clock,
	}
	return st
}

func registerUser(t *testing.T, st *stack, email, password string) domain.User {
	t.Helper()
	user, err := st.Auth.Register(context.Background(), email, password)
	require.NoError(t, err)
	return user
}

func loginInput(email, password string) LoginInput {
	return LoginInput{
		Email:     email,
		Password:  password,
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0",
	}
}
