package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/execution"
)

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (h *handler) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		FlowID      string         `json:"flow_id"`
		TriggerType string         `json:"trigger_type"`
		TriggerData map[string]any `json:"trigger_data"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	trigger := execution.TriggerType(req.TriggerType)
	switch trigger {
	case "":
		trigger = execution.TriggerManual
	case execution.TriggerManual, execution.TriggerWebhook, execution.TriggerSchedule, execution.TriggerDeploy:
	default:
		httputil.WriteError(w, apperr.Validation("trigger_type must be manual, webhook, schedule, or deploy"))
		return
	}

	result, err := h.Engine.StartExecution(r.Context(), principal.OrgID, req.FlowID, trigger, req.TriggerData)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

func (h *handler) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	exec, err := h.Engine.GetExecution(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

func (h *handler) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	steps, err := h.Engine.GetSteps(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (h *handler) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	logs, err := h.Engine.GetLogs(r.Context(), principal.OrgID, mux.Vars(r)["id"], limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *handler) handleFlowExecutions(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	execs, err := h.Engine.ListFlowExecutions(r.Context(), principal.OrgID, mux.Vars(r)["id"], limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (h *handler) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	execs, err := h.Engine.ListRecent(r.Context(), principal.OrgID, limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (h *handler) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	exec, err := h.Engine.CancelExecution(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

func (h *handler) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Engine.DeleteExecution(r.Context(), principal.OrgID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
