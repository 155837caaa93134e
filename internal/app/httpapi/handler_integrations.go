package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/services/verification"
)

type integrationRequest struct {
	Name    string `json:"name"`
	APIKey  string `json:"apiKey"`
	TestURL string `json:"testUrl"`
}

func (h *handler) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req integrationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	in, err := h.Integrations.Create(r.Context(), principal.OrgID, req.Name, req.TestURL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Verification runs in the background; the row is already pending.
	if err := h.Verifier.Enqueue(r.Context(), verification.Request{
		IntegrationID: in.ID,
		OrgID:         principal.OrgID,
		Name:          in.Name,
		APIKey:        req.APIKey,
		TestURL:       in.TestURL,
	}); err != nil {
		h.Log.WithError(err).WithField("integration_id", in.ID).Warn("enqueue verification")
	}
	httputil.WriteJSON(w, http.StatusAccepted, in)
}

func (h *handler) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	list, err := h.Integrations.List(r.Context(), principal.OrgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"integrations": list})
}

func (h *handler) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req integrationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	in, err := h.Integrations.Update(r.Context(), principal.OrgID, mux.Vars(r)["id"], req.Name, req.TestURL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, in)
}

func (h *handler) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Integrations.Delete(r.Context(), principal.OrgID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleVerifyIntegration(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req integrationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	in, err := h.Integrations.Get(r.Context(), principal.OrgID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.Verifier.Enqueue(r.Context(), verification.Request{
		IntegrationID: in.ID,
		OrgID:         principal.OrgID,
		Name:          in.Name,
		APIKey:        req.APIKey,
		TestURL:       in.TestURL,
	}); err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "verification started"})
}

type connectionRequest struct {
	Provider string         `json:"provider"`
	Env      string         `json:"env"`
	Label    string         `json:"label"`
	Config   map[string]any `json:"config"`
}

func (h *handler) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	var req connectionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	env := integration.Env(req.Env)
	if env == "" {
		env = integration.EnvSandbox
	}
	conn, err := h.Integrations.CreateConnection(r.Context(), principal.UserID, req.Provider, req.Label, env, req.Config)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, conn)
}

func (h *handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	conns, err := h.Integrations.ListConnections(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (h *handler) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalOf(r)
	if err := h.Integrations.DeleteConnection(r.Context(), principal.UserID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
