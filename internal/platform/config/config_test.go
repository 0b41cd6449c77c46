package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"BREWLOG_API_BASE", "BREWLOG_REQUEST_TIMEOUT", "BREWLOG_REFRESH_TIMEOUT",
		"BREWLOG_TOKEN_STORE", "BREWLOG_TOKEN_FILE", "REDIS_URL", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, "http://localhost:8000/api", cfg.APIBase)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.NotEmpty(t, cfg.Store.FilePath)
	assert.Empty(t, cfg.Redis.URL)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BREWLOG_API_BASE", "https://beer.example/api")
	t.Setenv("BREWLOG_REQUEST_TIMEOUT", "3s")
	t.Setenv("BREWLOG_REFRESH_TIMEOUT", "7")
	t.Setenv("BREWLOG_TOKEN_STORE", StoreRedis)
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, "https://beer.example/api", cfg.APIBase)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 7*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Redis.URL)
	assert.Equal(t, 4, cfg.Redis.PoolSize)
}
