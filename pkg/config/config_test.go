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
	t.Chdir(t.TempDir())
	for _, k := range []string{"ODM_STORE", "ODM_OP_TIMEOUT", "ODM_CAS_RETRIES", "PORT", "ODM_BREAKER"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.OpTimeout)
	assert.Equal(t, 5, cfg.CASRetries)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.Breaker)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ODM_STORE", "SQLite")
	t.Setenv("ODM_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("ODM_OP_TIMEOUT", "250ms")
	t.Setenv("ODM_CAS_RETRIES", "9")
	t.Setenv("ODM_BREAKER", "on")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 250*time.Millisecond, cfg.OpTimeout)
	assert.Equal(t, 9, cfg.CASRetries)
	assert.True(t, cfg.Breaker)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// godotenv never overrides a variable that is already set
	t.Setenv("ODM_KEY_PREFIX", "")
	require.NoError(t, os.Unsetenv("ODM_KEY_PREFIX"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ODM_KEY_PREFIX=app:\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "app:", cfg.KeyPrefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown store", func(c *Config) { c.Store = "cassandra" }, true},
		{"zero timeout", func(c *Config) { c.OpTimeout = 0 }, true},
		{"no retries", func(c *Config) { c.CASRetries = 0 }, true},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Store: StoreMemory, OpTimeout: time.Second, CASRetries: 3}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
