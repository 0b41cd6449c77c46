package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Token store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Client captures configuration for the session core and its CLI.
type Client struct {
	APIBase        string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	LogLevel       string
	StatusAddr     string
	Store          StoreConfig
	Redis          RedisConfig
	Postgres       PostgresConfig
}

// StoreConfig selects and configures the token store.
type StoreConfig struct {
	Backend    string
	FilePath   string
	Passphrase string
	Profile    string
}

// RedisConfig mirrors the go-redis knobs we expose.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// FromEnv builds a Client config from environment variables so main stays lean.
func FromEnv() Client {
	return Client{
		APIBase:        envString("BREWLOG_API_BASE", "http://localhost:8000/api"),
		RequestTimeout: envDuration("BREWLOG_REQUEST_TIMEOUT", 15*time.Second),
		RefreshTimeout: envDuration("BREWLOG_REFRESH_TIMEOUT", 10*time.Second),
		LogLevel:       envString("BREWLOG_LOG_LEVEL", "info"),
		StatusAddr:     envString("BREWLOG_STATUS_ADDR", "127.0.0.1:8089"),
		Store: StoreConfig{
			Backend:    envString("BREWLOG_TOKEN_STORE", StoreFile),
			FilePath:   envString("BREWLOG_TOKEN_FILE", defaultTokenFile()),
			Passphrase: os.Getenv("BREWLOG_TOKEN_PASSPHRASE"),
			Profile:    envString("BREWLOG_PROFILE", "default"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 4),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 1),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(envInt("DATABASE_MAX_CONNS", 4)),
		},
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "brewlog", "session.json")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go durations ("15s") or bare seconds ("15").
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
