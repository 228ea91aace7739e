package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("PRESENCE_INTERVAL", "10s")
	t.Setenv("MAX_IMAGE_BYTES", "2048")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.PresenceInterval)
	assert.Equal(t, 5*time.Minute, cfg.PresenceIdleThreshold)
	assert.Equal(t, 2048, cfg.MaxImageBytes)
	assert.Equal(t, "8083", cfg.Port)
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\njwt_secret: fromfile\nstore_driver: memory\nlog_level: debug\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "fromfile", cfg.JWTSecret)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PRESENCE_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.Validate(), "secret required")

	cfg.JWTSecret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.StoreDriver = "mongo"
	assert.Error(t, cfg.Validate())
}
