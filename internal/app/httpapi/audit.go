package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/infrastructure/middleware"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/gate"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// auditRecorder appends one audit row per authenticated state-changing call.
// Insert failures are logged, never surfaced.
type auditRecorder struct {
	store storage.AuditStore
	log   *logger.Logger
}

func newAuditRecorder(store storage.AuditStore, log *logger.Logger) *auditRecorder {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &auditRecorder{store: store, log: log}
}

type auditStatusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditStatusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *auditRecorder) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &auditStatusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if a.store == nil {
			return
		}
		principal, _ := gate.PrincipalFrom(r.Context())
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		entry := account.AuditEntry{
			UserID:     principal.UserID,
			Action:     r.Method + " " + route,
			Route:      r.URL.Path,
			Method:     r.Method,
			IP:         httputil.ClientIP(r),
			UserAgent:  r.UserAgent(),
			StatusCode: recorder.status,
			RequestID:  middleware.RequestIDFrom(r.Context()),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.store.AppendAudit(ctx, entry); err != nil {
			a.log.WithError(err).WithField("route", entry.Route).Warn("append audit entry failed")
		}
	})
}
