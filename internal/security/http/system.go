package http

import (
	"net/http"
	"time"

	"github.com/vigil-sec/vigil/internal/security/service"
	"github.com/vigil-sec/vigil/internal/security/store"
	"github.com/vigil-sec/vigil/pkg/httpx"
	"github.com/vigil-sec/vigil/pkg/slogx"
)

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivezHandler reports liveness. Always 200 while the process runs.
func LivezHandler(startTime time.Time, version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	})
}

// ReadyzHandler reports readiness, gated on database connectivity.
func ReadyzHandler(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			slogx.FromContext(r.Context()).Error("readiness check failed", "err", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unavailable")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

// SystemHandler exposes operational triggers.
type SystemHandler struct {
	Cleanup *service.CleanupService
}

// HandleCleanup handles POST /v1/system/session-cleanup: one synchronous
// sweep, returning its summary. Safe to race with the scheduler's own
// ticks.
func (h *SystemHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	summary := h.Cleanup.RunOnce(r.Context())
	httpx.WriteJSON(w, http.StatusOK, summary)
}
