package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "data/compliance_reports", cfg.ReportsDir)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestProductionRequiresSecrets(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DISABLE_DB", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	_, err = Load()
	assert.Error(t, err) // still missing DATABASE_URL

	t.Setenv("DISABLE_DB", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Production, cfg.Env)
	assert.True(t, cfg.DisableDB)
}

func TestDSNAppliesSSLFlag(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://u:p@host/db")
	t.Setenv("PGSSL_NO_VERIFY", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.DSN(), "sslmode=require")

	t.Setenv("DATABASE_URL", "postgres://u:p@host/db?sslmode=disable")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@host/db?sslmode=disable", cfg.DSN())
}

func TestBoolAndDurationParsing(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SHUTDOWN_GRACE", "90s")
	t.Setenv("DB_MAX_OPEN_CONNS", "42")
	t.Setenv("DISABLE_DB", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DisableDB)
	assert.Equal(t, 90*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 42, cfg.MaxOpenConns)
}
