package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "campusrd", cfg.Database.Database)

	assert.Equal(t, "mqtt", cfg.Notifier.Backend)
	assert.Equal(t, "campus/guards/", cfg.Notifier.TopicPrefix)

	assert.Equal(t, 3, cfg.Dispatch.MaxGuards)
	assert.Equal(t, 120, cfg.Dispatch.ResponseDeadlineSec)
	assert.Equal(t, 15, cfg.Dispatch.SweepIntervalSec)
	assert.Equal(t, "dispatch:signals", cfg.Dispatch.SignalStream)
	assert.Equal(t, "dispatch:responses", cfg.Dispatch.ResponseStream)
	assert.Equal(t, "dispatch:audit", cfg.Dispatch.AuditStream)
	assert.NotEmpty(t, cfg.Dispatch.ConsumerName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DISPATCH_MAX_GUARDS", "5")
	t.Setenv("DISPATCH_RESPONSE_DEADLINE", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 5, cfg.Dispatch.MaxGuards)
	assert.Equal(t, 60, cfg.Dispatch.ResponseDeadlineSec)
}

func TestLoad_RejectsUnknownNotifierBackend(t *testing.T) {
	t.Setenv("NOTIFIER_BACKEND", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WebhookBackendRequiresURL(t *testing.T) {
	t.Setenv("NOTIFIER_BACKEND", "webhook")
	t.Setenv("NOTIFIER_WEBHOOK_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_IgnoresMalformedInt(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestGetDSN(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	dsn := cfg.GetDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=campusrd")
	assert.Contains(t, dsn, "sslmode=disable")
}
