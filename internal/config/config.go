// Package config provides environment-aware configuration management
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration
type Config struct {
	Env Environment

	// Server
	ListenAddr     string
	FrontendOrigin string
	ShutdownGrace  time.Duration

	// Database
	DatabaseURL   string
	DisableDB     bool
	PGSSLNoVerify bool
	MaxOpenConns  int
	MaxIdleConns  int
	ConnMaxLife   time.Duration

	// Auth
	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string

	// Secrets
	SecretsEncKey string

	// Mail
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Providers
	FlutterwaveSecretKey  string
	FlutterwaveSecretHash string
	MTNSubscriptionKey    string
	MTNAPIUser            string
	MTNAPIKey             string
	MTNTargetEnv          string

	// Logging
	LogLevel  string
	LogFormat string

	// Reports
	ReportsDir string
}

// Load reads configuration from the process environment, consulting an
// optional .env file first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: could not load .env: %v\n", err)
		}
	}

	env := Development
	switch strings.ToLower(strings.TrimSpace(os.Getenv("NODE_ENV"))) {
	case "production":
		env = Production
	case "testing", "test":
		env = Testing
	}

	cfg := &Config{
		Env:            env,
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		FrontendOrigin: getEnv("FRONTEND_ORIGIN", "http://localhost:5173"),
		ShutdownGrace:  getDuration("SHUTDOWN_GRACE", 30*time.Second),

		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DisableDB:     getBool("DISABLE_DB"),
		PGSSLNoVerify: getBool("PGSSL_NO_VERIFY"),
		MaxOpenConns:  getInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:  getInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLife:   getDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		GoogleClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),

		SecretsEncKey: strings.TrimSpace(os.Getenv("SECRETS_ENC_KEY")),

		SMTPHost: strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort: getInt("SMTP_PORT", 587),
		SMTPUser: strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: strings.TrimSpace(os.Getenv("SMTP_FROM")),

		FlutterwaveSecretKey:  strings.TrimSpace(os.Getenv("FLW_SECRET_KEY")),
		FlutterwaveSecretHash: strings.TrimSpace(os.Getenv("FLW_SECRET_HASH")),
		MTNSubscriptionKey:    strings.TrimSpace(os.Getenv("MTN_SUBSCRIPTION_KEY")),
		MTNAPIUser:            strings.TrimSpace(os.Getenv("MTN_API_USER")),
		MTNAPIKey:             strings.TrimSpace(os.Getenv("MTN_API_KEY")),
		MTNTargetEnv:          getEnv("MTN_TARGET_ENV", "sandbox"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ReportsDir: getEnv("REPORTS_DIR", "data/compliance_reports"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env == Production {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if !c.DisableDB && c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production unless DISABLE_DB is set")
		}
	}
	return nil
}

// DSN returns the database connection string, applying the PGSSL_NO_VERIFY
// flag when no sslmode is present.
func (c *Config) DSN() string {
	dsn := c.DatabaseURL
	if dsn == "" || !c.PGSSLNoVerify || strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "sslmode=require"
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
