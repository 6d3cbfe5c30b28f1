package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session storage backends
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Config holds all configuration for the session layer and its consumers
type Config struct {
	// API Configuration
	API APIConfig

	// Session persistence configuration
	Session SessionConfig

	// Redis Configuration
	Redis RedisConfig

	// Guard configuration for protected views
	Guard GuardConfig

	// Logging Configuration
	Logging LoggingConfig

	// DevAPI configures the local development server
	DevAPI DevAPIConfig
}

// APIConfig describes the remote API the client talks to
type APIConfig struct {
	BaseURL     string
	Timeout     time.Duration
	InsecureTLS bool // Accept self-signed certificates
}

// SessionConfig selects where the persisted session blob lives
type SessionConfig struct {
	Backend    string // file, keyring, redis, sqlite, memory
	Key        string // Name of the persisted record
	Dir        string // Directory for the file backend, empty = ~/.config/taskdesk
	SQLitePath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
	TTL     time.Duration
}

// GuardConfig holds the session guard settings
type GuardConfig struct {
	Timeout   time.Duration // Safety timer for the mount-time refresh
	LoginPath string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// DevAPIConfig configures cmd/devapi
type DevAPIConfig struct {
	Addr           string
	JWTSecret      string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	apiTimeout, err := durationEnv("TASKDESK_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	guardTimeout, err := durationEnv("TASKDESK_GUARD_TIMEOUT", 1500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	redisTTL, err := durationEnv("TASKDESK_REDIS_TTL", 0)
	if err != nil {
		return nil, err
	}

	accessTTL, err := durationEnv("DEVAPI_ACCESS_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	refreshTTL, err := durationEnv("DEVAPI_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnv("TASKDESK_SESSION_BACKEND", BackendFile))
	switch backend {
	case BackendFile, BackendKeyring, BackendRedis, BackendSQLite, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid TASKDESK_SESSION_BACKEND %q, must be one of: file, keyring, redis, sqlite, memory", backend)
	}

	return &Config{
		API: APIConfig{
			BaseURL:     strings.TrimRight(getEnv("TASKDESK_API_URL", "http://localhost:8080"), "/"),
			Timeout:     apiTimeout,
			InsecureTLS: boolEnv("TASKDESK_INSECURE_TLS"),
		},
		Session: SessionConfig{
			Backend:    backend,
			Key:        getEnv("TASKDESK_SESSION_KEY", "taskdesk.session"),
			Dir:        os.Getenv("TASKDESK_SESSION_DIR"),
			SQLitePath: getEnv("TASKDESK_SQLITE_PATH", "taskdesk.sqlite"),
		},
		Redis: RedisConfig{
			// Redis address - default to localhost:6379, allow override for dev/docker
			Address: getEnv("REDIS_ADDRESS", "localhost:6379"),
			TTL:     redisTTL,
		},
		Guard: GuardConfig{
			Timeout:   guardTimeout,
			LoginPath: getEnv("TASKDESK_LOGIN_PATH", "/login"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		DevAPI: DevAPIConfig{
			Addr:           getEnv("DEVAPI_ADDR", ":8080"),
			JWTSecret:      os.Getenv("DEVAPI_JWT_SECRET"),
			AccessTTL:      accessTTL,
			RefreshTTL:     refreshTTL,
			AllowedOrigins: splitList(getEnv("DEVAPI_ALLOWED_ORIGINS", "http://localhost:5173")),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
