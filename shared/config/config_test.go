package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("preference-service", "")
	require.NoError(t, err)

	assert.Equal(t, "preference-service", cfg.Service)
	assert.Equal(t, "8082", cfg.HTTP.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "preference.events", cfg.Events.Stream)
	assert.Equal(t, "preference-service-group", cfg.Events.Group)
	assert.Equal(t, "preference-service", cfg.Events.Source)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Outbox.GracePeriod)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 3*time.Second, cfg.Redis.ReadTimeout)
}

func TestLoadWorkerDefaults(t *testing.T) {
	cfg, err := Load("workflow-worker", "")
	require.NoError(t, err)

	assert.Equal(t, "8085", cfg.HTTP.Port)
	assert.Equal(t, "preference-workflow", cfg.Events.Source)
	assert.Equal(t, "workflow-worker-group", cfg.Events.Group)
	assert.Equal(t, "preference.external", cfg.Events.ExternalStream)
	assert.Equal(t, 7*24*time.Hour, cfg.Workflow.RunTTL)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "file:prefs.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PREFERENCE_SERVICE_URL", "http://prefs:8082/")

	cfg, err := Load("api-gateway", "")
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:prefs.db", cfg.Database.DSN)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "http://prefs:8082", cfg.Gateway.PreferenceServiceURL)
	assert.NoError(t, cfg.RequireAuthSecret())
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PREFS_HTTP_PORT", "7777")
	t.Setenv("PREFS_LOG_LEVEL", "debug")

	cfg, err := Load("workflow-worker", "")
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  format: text
events:
  batchSize: 25
  claimMinIdle: 2m
auth:
  secret: from-file
  clients:
    - id: web
      secretHash: "$2a$10$abc"
      userId: u1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load("token-service", path)
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, int64(25), cfg.Events.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Events.ClaimMinIdle)
	require.Len(t, cfg.Auth.Clients, 1)
	assert.Equal(t, "web", cfg.Auth.Clients[0].ID)
	assert.Equal(t, "u1", cfg.Auth.Clients[0].UserID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("token-service", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRequireAuthSecret(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireAuthSecret())
}
