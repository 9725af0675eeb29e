package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "inmemory", cfg.Bus.Driver)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.False(t, cfg.GRPC.Enabled)
}

func TestLoadFileAndOverlay(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "config.yaml", `
app:
  name: orders
log:
  level: debug
  format: json
engine:
  parallel_limit: 4
  expression_timeout: 250ms
store:
  driver: redis
  redis:
    addr: redis:6379
http:
  addr: ":9090"
  validate_requests: false
scheduler:
  jobs:
    - name: nightly
      spec: "@daily"
      workflow: cleanup
`)
	overlay := writeFile(t, dir, "prod.yaml", `
app:
  environment: production
log:
  level: warn
engine:
  parallel_limit: 16
`)

	cfg, err := NewLoader(base).WithOverlay(overlay).WithoutEnv().Load()
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout, "defaults survive")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 16, cfg.Engine.ParallelLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.ExpressionTimeout)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.ValidateRequests, "explicit false in base file is kept")
	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, "cleanup", cfg.Scheduler.Jobs[0].Workflow)
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "config.yaml", "log:\n  level: debug\n")
	envFile := writeFile(t, dir, ".env", "STORE_DRIVER=postgres\nPOSTGRES_DSN=postgres://from-dotenv\n")

	t.Cleanup(func() { _ = os.Unsetenv("STORE_DRIVER") })
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("ENGINE_EXPRESSION_TIMEOUT", "2s")
	t.Setenv("POSTGRES_DSN", "postgres://from-env")

	cfg, err := NewLoader(base).WithEnvFile(envFile, filepath.Join(dir, "missing.env")).Load()
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level, "environment overrides file")
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.Engine.ExpressionTimeout)
	assert.Equal(t, "postgres", cfg.Store.Driver, "loaded from .env")
	assert.Equal(t, "postgres://from-env", cfg.Store.Postgres.DSN, "process env wins over .env")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoader(filepath.Join(dir, "absent.yaml")).WithoutEnv().Load()
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "app: [unclosed")
	_, err = NewLoader(bad).WithoutEnv().Load()
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))

	invalid := writeFile(t, dir, "invalid.yaml", "store:\n  driver: cassandra\n")
	_, err = NewLoader(invalid).WithoutEnv().Load()
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))
	assert.ErrorContains(t, err, "store")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Name = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Engine.ParallelLimit = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Bus.Driver = "amqp"
	assert.ErrorContains(t, cfg.Validate(), "bus")
}
