package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte("auth:\n  jwt_secret: s3cret\nserver:\n  port: \"9090\"\n"), 0o600)
	require.NoError(t, err)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Address())
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "social-events", cfg.Broker.Queue)
	assert.Equal(t, 10*time.Second, cfg.Realtime.OpTimeout)
	assert.Equal(t, 10, cfg.Realtime.MaxReconnectAttempts)
	assert.Empty(t, cfg.Database.PostgresDSN)
	assert.Empty(t, cfg.Redis.URL)
}
