package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/gate"
)

// --- notifications ----------------------------------------------------------

func (h *handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := h.Notifications.List(r.Context(), principal.OrgID, limit)
	if err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *handler) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	typ := notification.Type(req.Type)
	if typ != notification.TypeInfo && typ != notification.TypeWarn && typ != notification.TypeError {
		typ = notification.TypeInfo
	}
	h.Notifications.Notify(r.Context(), principal.OrgID, typ, req.Title, req.Message, "")
	w.WriteHeader(http.StatusCreated)
}

func (h *handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Notifications.MarkRead(r.Context(), principal.OrgID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	updated, err := h.Notifications.MarkAllRead(r.Context(), principal.OrgID)
	if err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// --- IP allowlist -----------------------------------------------------------

func (h *handler) handleListAllowlist(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	entries, err := h.Policy.ListAllowlistEntries(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handler) handleAddAllowlist(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		IPAddress   string `json:"ip_address"`
		Description string `json:"description"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if net.ParseIP(req.IPAddress) == nil {
		httputil.WriteError(w, apperr.Validation("ip_address must be a valid address"))
		return
	}
	entry, err := h.Policy.AddAllowlistEntry(r.Context(), account.IPAllowlistEntry{
		UserID:      principal.UserID,
		IPAddress:   req.IPAddress,
		Description: req.Description,
	})
	if err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *handler) handleRemoveAllowlist(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Policy.RemoveAllowlistEntry(r.Context(), principal.UserID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, apperr.NotFound("allowlist entry"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCurrentIP(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"currentIp": gate.ClientIPFrom(r.Context()),
	})
}

// --- reports ----------------------------------------------------------------

func (h *handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		WindowDays int `json:"window_days"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, path, err := h.Reports.Generate(r.Context(), principal.OrgID, req.WindowDays)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"report": report,
		"path":   path,
	})
}

// --- system health ----------------------------------------------------------

func (h *handler) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}
