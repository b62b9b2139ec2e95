package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 1000, cfg.Lock.MaxPending)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=ticketallocation sslmode=disable",
		cfg.Database.DSN())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
storage:
  driver: memory
lock:
  timeout: 250ms
  max_pending: 10
log:
  format: json
`), 0o600))

	t.Setenv("LOCK_MAX_PENDING", "42")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.Timeout)
	assert.Equal(t, 42, cfg.Lock.MaxPending)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOCK_TIMEOUT=2s\n"), 0o600))
	// godotenv never overrides a variable that is already set, even to "".
	// Setenv registers the restore; Unsetenv clears it for the load.
	t.Setenv("LOCK_TIMEOUT", "")
	os.Unsetenv("LOCK_TIMEOUT")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "soon")

	_, err := Load("", noEnvFile(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero lock timeout", func(c *Config) { c.Lock.Timeout = 0 }},
		{"negative max pending", func(c *Config) { c.Lock.MaxPending = -1 }},
		{"empty port", func(c *Config) { c.Server.Port = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}
