package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/httpx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *healthChecks `json:"checks,omitempty"`
}

type healthChecks struct {
	Database string `json:"database"`
}

// LivezHandler always answers 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler verifies the database is reachable before reporting
// ready.
func ReadyzHandler(startTime time.Time, version string, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{Database: "ok"}
		status := "ok"
		code := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, healthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

// AuditHandler exposes the security audit trail.
type AuditHandler struct {
	Gate *service.SecurityGate
}

type auditEventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Details   string    `json:"details"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = n
	}

	events, err := h.Gate.RecentEvents(ctx, limit)
	if err != nil {
		slogx.FromContext(ctx).Error("audit listing failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "server_error", "")
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toAuditEventResponse(ev))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

func toAuditEventResponse(ev domain.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:        ev.ID,
		Type:      ev.Type,
		Details:   ev.Details,
		UserID:    ev.UserID,
		CreatedAt: ev.CreatedAt,
	}
}
