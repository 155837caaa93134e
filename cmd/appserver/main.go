package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/flowforge/platform/internal/app"
	"github.com/flowforge/platform/internal/app/storage/postgres"
	"github.com/flowforge/platform/internal/config"
	"github.com/flowforge/platform/internal/platform/database"
	"github.com/flowforge/platform/internal/platform/migrations"
	"github.com/flowforge/platform/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rootCtx := context.Background()
	stores := app.Stores{}

	var db *sql.DB
	if cfg.DatabaseURL != "" && !cfg.DisableDB {
		db, err = database.Open(rootCtx, cfg.DSN())
		if err != nil {
			appLog.WithError(err).Fatal("connect to postgres")
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLife)

		if err := migrations.Apply(rootCtx, db); err != nil {
			appLog.WithError(err).Fatal("apply migrations")
		}

		store := postgres.New(db)
		stores = app.Stores{
			Orgs:          store,
			Users:         store,
			Flows:         store,
			Executions:    store,
			Integrations:  store,
			Notifications: store,
			TxEvents:      store,
			Policy:        store,
			Audit:         store,
		}
	} else {
		appLog.Warn("running with in-memory storage; state is lost on restart")
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(cfg, stores, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("initialise application")
	}

	if err := application.Start(rootCtx); err != nil {
		appLog.WithError(err).Fatal("start application")
	}
	appLog.WithField("addr", cfg.ListenAddr).Info("flowforge execution plane up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		appLog.WithError(err).Error("shutdown")
		os.Exit(1)
	}
}
