package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/profile"
	adminsvc "github.com/reviewgame/server/internal/app/services/admin"
	"github.com/reviewgame/server/internal/app/storage"
)

const dbPingTimeout = 2 * time.Second

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := h.app.Admin.ListUsers(r.Context(), r.URL.Query().Get("q"), queryInt(r, "page", 1), queryInt(r, "per_page", 20))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Users []profile.Profile `json:"users"`
		Total int               `json:"total"`
	}{Users: users, Total: total})
}

func (h *handler) adminGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Admin.GetUser(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var upd adminsvc.UserUpdate
	if !h.decode(w, r, &upd) {
		return
	}

	p, err := h.app.Admin.UpdateUser(r.Context(), adminID, mux.Vars(r)["userID"], upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.app.Admin.DeleteUser(r.Context(), adminID, mux.Vars(r)["userID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminUserLogins(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Admin.ListLoginHistory(r.Context(), mux.Vars(r)["userID"], queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) adminImpersonate(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	sess, err := h.app.Admin.Impersonate(r.Context(), adminID, payload.UserID, payload.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) adminImpersonationStatus(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	sess, active, err := h.app.Admin.ImpersonationStatus(r.Context(), adminID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := struct {
		Active  bool                        `json:"active"`
		Session *admin.ImpersonationSession `json:"session,omitempty"`
	}{Active: active}
	if active {
		resp.Session = &sess
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) adminEndImpersonation(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.app.Admin.EndImpersonation(r.Context(), adminID, mux.Vars(r)["sessionID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminListAudit(w http.ResponseWriter, r *http.Request) {
	filter := storage.AuditFilter{
		AdminID: r.URL.Query().Get("admin_id"),
		Action:  r.URL.Query().Get("action"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", 50),
	}

	entries, total, err := h.app.Admin.ListAudit(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Entries []admin.AuditEntry `json:"entries"`
		Total   int                `json:"total"`
	}{Entries: entries, Total: total})
}

// adminRecentAudit serves the in-memory tail of the audit trail. It stays
// readable even when the database is struggling.
func (h *handler) adminRecentAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Admin.RecentAudit(queryInt(r, "limit", 0)))
}

type componentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type memoryHealth struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type hostHealth struct {
	Hostname      string `json:"hostname"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

type healthReport struct {
	Status     string          `json:"status"`
	CheckedAt  time.Time       `json:"checked_at"`
	Database   componentHealth `json:"database"`
	Memory     *memoryHealth   `json:"memory,omitempty"`
	CPUPercent *float64        `json:"cpu_percent,omitempty"`
	Host       *hostHealth     `json:"host,omitempty"`
}

// adminSystemHealth probes storage connectivity and host resources. Probe
// failures degrade the report instead of failing the request.
func (h *handler) adminSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := healthReport{Status: "ok", CheckedAt: time.Now().UTC()}

	report.Database = componentHealth{Status: "ok"}
	if pinger := h.app.Pinger(); pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		defer cancel()
		if err := pinger.PingContext(pingCtx); err != nil {
			report.Database = componentHealth{Status: "down", Detail: err.Error()}
			report.Status = "degraded"
		}
	} else {
		report.Database.Detail = "in-memory store"
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		report.Memory = &memoryHealth{TotalBytes: vm.Total, UsedBytes: vm.Used, UsedPercent: vm.UsedPercent}
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		report.CPUPercent = &percents[0]
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		report.Host = &hostHealth{Hostname: info.Hostname, UptimeSeconds: info.Uptime}
	}

	writeJSON(w, http.StatusOK, report)
}
