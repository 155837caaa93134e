package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/gate"
)

func principalOf(r *http.Request) (gate.Principal, bool) {
	return gate.PrincipalFrom(r.Context())
}

func (h *handler) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	fl, err := h.Flows.Create(r.Context(), principal.OrgID, principal.UserID, req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fl)
}

func (h *handler) handleListFlows(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	flws, err := h.Flows.List(r.Context(), principal.OrgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"flows": flws})
}

func (h *handler) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	fl, err := h.Flows.Get(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fl)
}

func (h *handler) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Flows.Delete(r.Context(), principal.OrgID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleFlowStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		Status string `json:"status"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	fl, started, err := h.Flows.SetStatus(r.Context(), principal.OrgID, mux.Vars(r)["id"], flow.Status(req.Status))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	response := map[string]any{"flow": fl}
	if started != nil {
		response["execution"] = started
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

func (h *handler) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req struct {
		Graph     flow.Graph     `json:"graph"`
		Variables map[string]any `json:"variables"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ver, err := h.Flows.SaveVersion(r.Context(), principal.OrgID, mux.Vars(r)["id"], req.Graph, req.Variables)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ver)
}

func (h *handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	versions, err := h.Flows.ListVersions(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil || version < 1 {
		httputil.WriteError(w, apperr.Validation("version must be a positive integer"))
		return
	}
	ver, err := h.Flows.GetVersion(r.Context(), principal.OrgID, vars["id"], version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ver)
}
