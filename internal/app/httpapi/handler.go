// Package httpapi exposes the REST and WebSocket surface of the execution
// plane.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowforge/platform/infrastructure/metrics"
	"github.com/flowforge/platform/infrastructure/middleware"
	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/gate"
	"github.com/flowforge/platform/internal/app/services/accounts"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/services/flows"
	"github.com/flowforge/platform/internal/app/services/integrations"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/services/reports"
	"github.com/flowforge/platform/internal/app/services/verification"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// Deps bundles the services the handler fronts.
type Deps struct {
	Accounts      *accounts.Service
	Sessions      *gate.Sessions
	Gate          *gate.Gate
	Flows         *flows.Service
	Engine        *engine.Service
	Integrations  *integrations.Service
	Verifier      *verification.Worker
	Notifications *notifications.Service
	Reports       *reports.Service
	Hub           *bus.Hub
	Policy        storage.PolicyStore
	Audit         storage.AuditStore
	OAuth         GoogleOAuthConfig
	Log           *logger.Logger
}

type handler struct {
	Deps
	audit *auditRecorder
}

// NewHandler assembles the routed HTTP handler with its middleware chain.
func NewHandler(deps Deps, frontendOrigin string) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	h := &handler{Deps: deps, audit: newAuditRecorder(deps.Audit, deps.Log)}

	router := mux.NewRouter()
	router.Use(middleware.Tracing)
	router.Use(middleware.Recovery(deps.Log))
	router.Use(middleware.Logging(deps.Log))
	router.Use(middleware.CORS(frontendOrigin))
	router.Use(middleware.SecurityHeaders)

	// Public surface.
	router.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/auth/signup", h.handleSignup).Methods(http.MethodPost)
	router.HandleFunc("/auth/verify", h.handleVerify).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/auth/forgot-password", h.handleForgotPassword).Methods(http.MethodPost)
	router.HandleFunc("/auth/google", h.handleGoogleStart).Methods(http.MethodGet)
	router.HandleFunc("/auth/google/callback", h.handleGoogleCallback).Methods(http.MethodGet)

	// Authenticated surface behind the gate.
	authed := router.PathPrefix("/").Subrouter()
	authed.Use(deps.Gate.Middleware)
	authed.Use(h.audit.middleware)

	authed.HandleFunc("/auth/me", h.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/system/health", h.handleSystemHealth).Methods(http.MethodGet)

	authed.HandleFunc("/flows", h.handleCreateFlow).Methods(http.MethodPost)
	authed.HandleFunc("/flows", h.handleListFlows).Methods(http.MethodGet)
	authed.HandleFunc("/flows/{id}", h.handleGetFlow).Methods(http.MethodGet)
	authed.HandleFunc("/flows/{id}", h.handleDeleteFlow).Methods(http.MethodDelete)
	authed.HandleFunc("/flows/{id}/status", h.handleFlowStatus).Methods(http.MethodPatch)
	authed.HandleFunc("/flows/{id}/versions", h.handleSaveVersion).Methods(http.MethodPost)
	authed.HandleFunc("/flows/{id}/versions", h.handleListVersions).Methods(http.MethodGet)
	authed.HandleFunc("/flows/{id}/versions/{version}", h.handleGetVersion).Methods(http.MethodGet)

	authed.HandleFunc("/executions/start", h.handleStartExecution).Methods(http.MethodPost)
	authed.HandleFunc("/executions/recent", h.handleRecentExecutions).Methods(http.MethodGet)
	authed.HandleFunc("/executions/flow/{id}", h.handleFlowExecutions).Methods(http.MethodGet)
	authed.HandleFunc("/executions/{id}", h.handleGetExecution).Methods(http.MethodGet)
	authed.HandleFunc("/executions/{id}", h.handleDeleteExecution).Methods(http.MethodDelete)
	authed.HandleFunc("/executions/{id}/steps", h.handleGetSteps).Methods(http.MethodGet)
	authed.HandleFunc("/executions/{id}/logs", h.handleGetLogs).Methods(http.MethodGet)
	authed.HandleFunc("/executions/{id}/cancel", h.handleCancelExecution).Methods(http.MethodPost)

	authed.HandleFunc("/integrations", h.handleCreateIntegration).Methods(http.MethodPost)
	authed.HandleFunc("/integrations", h.handleListIntegrations).Methods(http.MethodGet)
	authed.HandleFunc("/integrations/{id}", h.handleUpdateIntegration).Methods(http.MethodPatch)
	authed.HandleFunc("/integrations/{id}", h.handleDeleteIntegration).Methods(http.MethodDelete)
	authed.HandleFunc("/integrations/{id}/verify", h.handleVerifyIntegration).Methods(http.MethodPost)

	authed.HandleFunc("/connections", h.handleCreateConnection).Methods(http.MethodPost)
	authed.HandleFunc("/connections", h.handleListConnections).Methods(http.MethodGet)
	authed.HandleFunc("/connections/{id}", h.handleDeleteConnection).Methods(http.MethodDelete)

	authed.HandleFunc("/ip-whitelist", h.handleListAllowlist).Methods(http.MethodGet)
	authed.HandleFunc("/ip-whitelist", h.handleAddAllowlist).Methods(http.MethodPost)
	authed.HandleFunc("/ip-whitelist/current-ip", h.handleCurrentIP).Methods(http.MethodGet)
	authed.HandleFunc("/ip-whitelist/{id}", h.handleRemoveAllowlist).Methods(http.MethodDelete)

	authed.HandleFunc("/notifications", h.handleListNotifications).Methods(http.MethodGet)
	authed.HandleFunc("/notifications", h.handleCreateNotification).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/{id}/read", h.handleMarkNotificationRead).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/read-all", h.handleMarkAllRead).Methods(http.MethodPost)

	authed.HandleFunc("/reports/compliance", h.handleComplianceReport).Methods(http.MethodPost)
	authed.HandleFunc("/sandbox/fetch", h.handleSandboxFetch).Methods(http.MethodPost)

	authed.HandleFunc("/ws", h.handleWebSocket).Methods(http.MethodGet)

	return router
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
