package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigil-sec/vigil/internal/security/geo"
	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/internal/security/store/drivers/sqlite"
	"github.com/vigil-sec/vigil/internal/security/throttle"
	"github.com/vigil-sec/vigil/pkg/jwtx"
)

const schedulerToken = "test-scheduler-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	log := slog.New(slog.DiscardHandler)
	notify := &service.Notifier{Mailer: &service.LogMailer{Log: log}, Log: log}
	resolver := geo.NewStaticResolver(nil)

	audit := &service.AuditService{Store: db, Notify: notify, Log: log}
	twoFactor := &service.TwoFactorService{Store: db, Audit: audit, Issuer: "Vigil"}
	detector := &service.Detector{Store: db, Geo: resolver, Log: log}
	sessions := &service.SessionService{Store: db, Audit: audit, Notify: notify, Log: log}
	admin := &service.AdminService{Store: db, Audit: audit, Notify: notify, Log: log}
	cleanup := service.NewCleanupService(db, sessions, audit, notify, log, time.Hour, 0)

	signer, verifier, err := jwtx.NewKeyPair("vigil-test")
	require.NoError(t, err)

	auth := &service.AuthService{
		Store:     db,
		Throttle:  throttle.NewLimiter(throttle.NewMemoryStore(), throttle.Config{}),
		TwoFactor: twoFactor,
		Detector:  detector,
		Sessions:  sessions,
		Audit:     audit,
		Notify:    notify,
		Signer:    signer,
		Geo:       resolver,
		Log:       log,
		Issuer:    "vigil-test",
	}

	r := NewRouter(verifier, "test", db, log)
	r.SchedulerToken = schedulerToken
	r.Auth = auth
	r.TwoFactor = twoFactor
	r.Sessions = sessions
	r.Audit = audit
	r.Admin = admin
	r.Cleanup = cleanup
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*stdhttp.Response, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := stdhttp.NewRequest(method, url, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0")

	resp, err := stdhttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func registerAndLogin(t *testing.T, srv *httptest.Server, email string) (token, sessionID string) {
	t.Helper()

	resp, _ := doJSON(t, "POST", srv.URL+"/v1/register", "", map[string]string{
		"email": email, "password": "correct horse battery",
	})
	require.Equal(t, stdhttp.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, "POST", srv.URL+"/v1/login", "", map[string]string{
		"email": email, "password": "correct horse battery",
	})
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	return body["access_token"].(string), body["session_id"].(string)
}

func TestEndToEndLoginAndSessionList(t *testing.T) {
	srv := newTestServer(t)
	token, sessionID := registerAndLogin(t, srv, "alice@example.com")

	resp, body := doJSON(t, "GET", srv.URL+"/v1/sessions", token, nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]any)
	assert.Equal(t, sessionID, first["id"])
	assert.Equal(t, true, first["current"])
}

func TestInvalidatedSessionRejectsToken(t *testing.T) {
	srv := newTestServer(t)
	token, sessionID := registerAndLogin(t, srv, "bob@example.com")

	resp, _ := doJSON(t, "DELETE", srv.URL+"/v1/sessions/"+sessionID, token, nil)
	require.Equal(t, stdhttp.StatusNoContent, resp.StatusCode)

	// The token is cryptographically valid but its session is dead.
	resp, body := doJSON(t, "GET", srv.URL+"/v1/sessions", token, nil)
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "session_invalidated", body["error"])
}

func TestLoginFailureResponses(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, "POST", srv.URL+"/v1/login", "", map[string]string{
		"email": "nobody@example.com", "password": "wrong password here",
	})
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])

	resp, _ = doJSON(t, "POST", srv.URL+"/v1/login", "", map[string]string{"email": "x@example.com"})
	assert.Equal(t, stdhttp.StatusBadRequest, resp.StatusCode)
}

func TestTwoFactorEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "carol@example.com")

	resp, body := doJSON(t, "POST", srv.URL+"/v1/2fa/setup", token, nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["secret"])
	assert.Len(t, body["backup_codes"].([]any), 8)

	// Unauthenticated setup is refused.
	resp, _ = doJSON(t, "POST", srv.URL+"/v1/2fa/setup", "", nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)

	// Wrong confirmation code.
	resp, body = doJSON(t, "POST", srv.URL+"/v1/2fa/enable", token, map[string]string{"code": "000000"})
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_code", body["error"])
}

func TestAdminGuard(t *testing.T) {
	srv := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "dave@example.com")

	// A regular account cannot reach admin actions.
	resp, _ := doJSON(t, "POST", srv.URL+"/v1/admin/security-actions", token, map[string]string{
		"action": "ban_ip", "target": "192.0.2.1",
	})
	assert.Equal(t, stdhttp.StatusForbidden, resp.StatusCode)
}

func TestSchedulerEndpointRequiresStaticToken(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, "POST", srv.URL+"/v1/system/session-cleanup", "", nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, "POST", srv.URL+"/v1/system/session-cleanup", schedulerToken, nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sessions_expired")
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, "GET", srv.URL+"/livez", "", nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, "GET", srv.URL+"/readyz", "", nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestSecurityStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "erin@example.com")

	resp, body := doJSON(t, "GET", srv.URL+"/v1/sessions/status", token, nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "low", body["risk_level"])
	assert.EqualValues(t, 1, body["active_sessions"])
}

func TestActivityEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "frank@example.com")

	resp, body := doJSON(t, "GET", srv.URL+"/v1/security/activity", token, nil)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.NotEmpty(t, events)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.(map[string]any)["event_type"].(string))
	}
	assert.Contains(t, types, "login_success")
}
