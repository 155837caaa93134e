// Package app wires the execution plane together and manages its lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/gate"
	"github.com/flowforge/platform/internal/app/httpapi"
	"github.com/flowforge/platform/internal/app/mailer"
	"github.com/flowforge/platform/internal/app/providers"
	"github.com/flowforge/platform/internal/app/services/accounts"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/services/flows"
	"github.com/flowforge/platform/internal/app/services/integrations"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/services/reports"
	"github.com/flowforge/platform/internal/app/services/schedule"
	"github.com/flowforge/platform/internal/app/services/verification"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/internal/app/system"
	"github.com/flowforge/platform/internal/app/vault"
	"github.com/flowforge/platform/internal/config"
	"github.com/flowforge/platform/pkg/logger"
	"github.com/flowforge/platform/pkg/pgnotify"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Orgs          storage.OrgStore
	Users         storage.UserStore
	Flows         storage.FlowStore
	Executions    storage.ExecutionStore
	Integrations  storage.IntegrationStore
	Notifications storage.NotificationStore
	TxEvents      storage.TxEventStore
	Policy        storage.PolicyStore
	Audit         storage.AuditStore
}

func (s *Stores) applyDefaults(mem *storage.Memory) {
	if s == nil || mem == nil {
		return
	}
	if s.Orgs == nil {
		s.Orgs = mem
	}
	if s.Users == nil {
		s.Users = mem
	}
	if s.Flows == nil {
		s.Flows = mem
	}
	if s.Executions == nil {
		s.Executions = mem
	}
	if s.Integrations == nil {
		s.Integrations = mem
	}
	if s.Notifications == nil {
		s.Notifications = mem
	}
	if s.TxEvents == nil {
		s.TxEvents = mem
	}
	if s.Policy == nil {
		s.Policy = mem
	}
	if s.Audit == nil {
		s.Audit = mem
	}
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts      *accounts.Service
	Flows         *flows.Service
	Engine        *engine.Service
	Integrations  *integrations.Service
	Verifier      *verification.Worker
	Notifications *notifications.Service
	Reports       *reports.Service
	Scheduler     *schedule.Scheduler
	Hub           *bus.Hub
	Sessions      *gate.Sessions
	Gate          *gate.Gate
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}

	mem := storage.NewMemory()
	stores.applyDefaults(mem)

	manager := system.NewManager()

	// Secret vault; absent key fails secret writes closed.
	vlt := vault.Disabled()
	if cfg.SecretsEncKey != "" {
		built, err := vault.New(cfg.SecretsEncKey)
		if err != nil {
			return nil, fmt.Errorf("initialise vault: %w", err)
		}
		vlt = built
	} else {
		log.Warn("SECRETS_ENC_KEY not set; connection writes will fail closed")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		if cfg.Env == config.Production {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		jwtSecret = "development-only-secret"
		log.Warn("JWT_SECRET not set; using a development-only session secret")
	}
	sessions, err := gate.NewSessions(jwtSecret, cfg.Env == config.Production)
	if err != nil {
		return nil, fmt.Errorf("initialise sessions: %w", err)
	}

	hub := bus.NewHub(log)

	mail := mailer.New(mailer.Config{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}, log)
	var sender mailer.Sender
	if mail != nil {
		sender = mail
	}

	recorder := providers.NewRecorder(stores.TxEvents, log)
	mtn := providers.NewMTN(nil, recorder, "", log)
	flutterwave := providers.NewFlutterwave(nil, recorder, "", log)

	notifier := notifications.New(stores.Notifications, hub, log)
	accountsService := accounts.New(stores.Orgs, stores.Users, sender, log)

	engineService := engine.New(stores.Flows, stores.Executions, stores.Integrations, vlt, notifier, log)
	engineService.WithMailer(sender)
	engineService.WithProviders(mtn, flutterwave)
	engineService.WithShutdownGrace(cfg.ShutdownGrace)

	flowsService := flows.New(stores.Flows, engineService, log)
	integrationsService := integrations.New(stores.Integrations, vlt, log)

	verifier := verification.New(stores.Integrations, notifier, hub, log)
	verifier.WithEnvCredentials(verification.EnvCredentials{
		FlutterwaveKey: cfg.FlutterwaveSecretKey,
		MTNKey:         cfg.MTNSubscriptionKey,
	})

	scheduler := schedule.New(stores.Flows, stores.Orgs, engineService, log)
	sweeper := gate.NewSweeper(stores.Policy, accountsService, log)
	policyGate := gate.New(sessions, stores.Users, stores.Policy, log)
	reportsService := reports.New(cfg.ReportsDir, stores.Flows, stores.Executions, stores.TxEvents, log)

	for _, svc := range []system.Service{engineService, verifier, scheduler, sweeper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	// The store-notification bridge only exists with a real database.
	if cfg.DatabaseURL != "" && !cfg.DisableDB {
		listener := pgnotify.New(cfg.DSN(), log)
		hub.BindListener(listener)
		if err := manager.Register(listener); err != nil {
			return nil, fmt.Errorf("register %s: %w", listener.Name(), err)
		}
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Accounts:      accountsService,
		Sessions:      sessions,
		Gate:          policyGate,
		Flows:         flowsService,
		Engine:        engineService,
		Integrations:  integrationsService,
		Verifier:      verifier,
		Notifications: notifier,
		Reports:       reportsService,
		Hub:           hub,
		Policy:        stores.Policy,
		Audit:         stores.Audit,
		OAuth: httpapi.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.FrontendOrigin + "/auth/google/callback",
			FrontendURL:  cfg.FrontendOrigin,
		},
		Log: log,
	}, cfg.FrontendOrigin)

	httpService := httpapi.NewService(handler, cfg.ListenAddr, log)
	if err := manager.Register(httpService); err != nil {
		return nil, fmt.Errorf("register %s: %w", httpService.Name(), err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Accounts:      accountsService,
		Flows:         flowsService,
		Engine:        engineService,
		Integrations:  integrationsService,
		Verifier:      verifier,
		Notifications: notifier,
		Reports:       reportsService,
		Scheduler:     scheduler,
		Hub:           hub,
		Sessions:      sessions,
		Gate:          policyGate,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and tears down the hub.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Hub.Close()
	return err
}
