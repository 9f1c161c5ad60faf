package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Issuer         string // Required: issuer claim for access tokens and the TOTP enrollment label
	SchedulerToken string // Optional: static bearer token for the external cleanup trigger

	DatabaseFile  string // Optional: path to SQLite database file (default: ./vigil.db)
	MasterKeyPath string // Optional: path to master encryption key file for TOTP secrets
	PepperFile    string // Optional: path to file containing pepper for password hashing (default: ./pepper)

	RedisAddr    string // Optional: Redis address for shared login throttling (default: in-process)
	GeoLookupURL string // Optional: base URL of an ip-api compatible geo lookup service
	SMTPAddr      string // Optional: SMTP host:port for security notifications (default: log only)
	SMTPFrom      string // Optional: From address for security notifications
	OperatorEmail string // Optional: address for critical operator alerts (default: log only)

	TokenTTL             time.Duration // Optional: access token lifetime (default: package default)
	SessionTTL           time.Duration // Optional: inactivity TTL before cleanup expires a session (default: 7 days)
	CleanupInterval      time.Duration // Optional: interval between cleanup sweeps (default: 1h)
	ThrottleMaxFailures  int           // Optional: failed logins before lockout (default: 5)
	ThrottleWindow       time.Duration // Optional: rolling window for counting failures (default: 15m)
	ThrottleLockDuration time.Duration // Optional: lockout duration (default: 30m)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := Config{
		Issuer:         getEnvOrDefault("VIGIL_ISSUER", "vigil"),
		SchedulerToken: os.Getenv("VIGIL_SCHEDULER_TOKEN"),

		DatabaseFile:  getEnvOrDefault("VIGIL_DATABASE_FILE", "vigil.db"),
		MasterKeyPath: os.Getenv("VIGIL_MASTER_KEY_PATH"),
		PepperFile:    getEnvOrDefault("VIGIL_PEPPER_FILE", "pepper"),

		RedisAddr:    os.Getenv("VIGIL_REDIS_ADDR"),
		GeoLookupURL: os.Getenv("VIGIL_GEO_LOOKUP_URL"),
		SMTPAddr:      os.Getenv("VIGIL_SMTP_ADDR"),
		SMTPFrom:      getEnvOrDefault("VIGIL_SMTP_FROM", "security@localhost"),
		OperatorEmail: os.Getenv("VIGIL_OPERATOR_EMAIL"),

		TokenTTL:             getEnvDurationOrDefault("VIGIL_TOKEN_TTL", 0),
		SessionTTL:           getEnvDurationOrDefault("VIGIL_SESSION_TTL", 0),
		CleanupInterval:      getEnvDurationOrDefault("VIGIL_CLEANUP_INTERVAL", 1*time.Hour),
		ThrottleMaxFailures:  getEnvIntOrDefault("VIGIL_THROTTLE_MAX_FAILURES", 0),
		ThrottleWindow:       getEnvDurationOrDefault("VIGIL_THROTTLE_WINDOW", 0),
		ThrottleLockDuration: getEnvDurationOrDefault("VIGIL_THROTTLE_LOCK_DURATION", 0),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
