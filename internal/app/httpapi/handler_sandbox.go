package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/netguard"
)

// sandboxFetchTimeout bounds the passthrough request issued on behalf of the
// graph editor.
const sandboxFetchTimeout = 10 * time.Second

var sandboxClient = httputil.NewGuardedClient(sandboxFetchTimeout, netguard.ResolveAndCheck)

// handleSandboxFetch proxies a single GET for the front-end graph editor so
// node configs can be previewed without browser CORS limits. Targets pass the
// same guard as engine actions and verification probes.
func (h *handler) handleSandboxFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	target, err := netguard.ValidateURL(req.URL)
	if err != nil {
		httputil.WriteError(w, apperr.Validation(err.Error()))
		return
	}

	fetchReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		httputil.WriteError(w, apperr.Validation(err.Error()))
		return
	}
	resp, err := sandboxClient.Do(fetchReq)
	if err != nil {
		httputil.WriteError(w, apperr.UpstreamUnavailable(err))
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteError(w, apperr.UpstreamUnavailable(err))
		return
	}

	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		body = string(payload)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": resp.StatusCode,
		"body":   body,
	})
}
