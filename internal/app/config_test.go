package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "branchdesk", cfg.Database.Postgres.Database)

	require.Equal(t, 6*time.Hour, cfg.Auth.Session.TTL)
	require.Equal(t, 64, cfg.Auth.Session.TokenLength)
	require.Equal(t, 3, cfg.Auth.Login.MaxAttempts)
	require.Equal(t, "confirm-secret", cfg.Auth.Confirmation.Secret)
	require.Equal(t, "branchdesk-test", cfg.Auth.Confirmation.Issuer)
	require.Equal(t, 5*time.Minute, cfg.Auth.Confirmation.TTL)
	require.Equal(t, "https://desk.example.com/confirm", cfg.Auth.Confirmation.BaseURL)
	require.Equal(t, "bootstrap-pass", cfg.Auth.Bootstrap.Password)

	require.True(t, cfg.Telegram.Enabled)
	require.Equal(t, "bot-token", cfg.Telegram.BotToken)
	require.Equal(t, "https://tg.example.com", cfg.Telegram.APIBaseURL)
	require.Equal(t, 3*time.Second, cfg.Telegram.Timeout)

	require.False(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@every 30m", cfg.Maintenance.Schedule)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/branchdesk.sqlite", cfg.Database.Path)
	require.Equal(t, 12*time.Hour, cfg.Auth.Session.TTL)
	require.Equal(t, 48, cfg.Auth.Session.TokenLength)
	require.Equal(t, 5, cfg.Auth.Login.MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.Auth.Confirmation.TTL)
	require.Equal(t, "branchdesk", cfg.Auth.Confirmation.Issuer)
	require.Equal(t, "root", cfg.Auth.Bootstrap.Username)
	require.False(t, cfg.Telegram.Enabled)
	require.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBaseURL)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.Schedule)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BRANCHDESK_SERVER_PORT", "9191")
	t.Setenv("BRANCHDESK_AUTH_LOGIN_MAX_ATTEMPTS", "7")
	t.Setenv("BRANCHDESK_AUTH_CONFIRMATION_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 7, cfg.Auth.Login.MaxAttempts)
	require.Equal(t, "env-secret", cfg.Auth.Confirmation.Secret)
}
