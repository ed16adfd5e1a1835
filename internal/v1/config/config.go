package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the collaboration hub.
type Config struct {
	// Required variables
	TokenSigningKey string
	Port            string
	DocstoreURL     string

	// Optional variables with defaults
	GoEnv        string
	LogLevel     string
	CorsOrigin   string
	RedisAddr    string
	RedisEnabled bool

	RedisPassword string

	// Room actor timing, overridable via DEBOUNCE_MS/MAX_STALENESS_MS/IDLE_GRACE_MS
	DebouncePeriod  time.Duration
	MaxStaleness    time.Duration
	IdleGracePeriod time.Duration
	CapacityDefault int

	DevelopmentMode bool

	// Admission's upstream token issuer, consumed only by auth.NewValidator;
	// token issuance itself lives in a separate control-plane service.
	// SkipAuth swaps in the mock validator for local dev.
	AuthDomain   string
	AuthAudience string
	SkipAuth     bool

	OtelCollectorAddr string

	// Rate Limits
	RateLimitApiGlobal   string
	RateLimitApiPublic   string
	RateLimitApiRooms    string
	RateLimitApiMessages string
	RateLimitWsIp        string
	RateLimitWsUser      string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: TOKEN_SIGNING_KEY (minimum 32 characters)
	cfg.TokenSigningKey = os.Getenv("TOKEN_SIGNING_KEY")
	if cfg.TokenSigningKey == "" {
		errors = append(errors, "TOKEN_SIGNING_KEY is required")
	} else if len(cfg.TokenSigningKey) < 32 {
		errors = append(errors, fmt.Sprintf("TOKEN_SIGNING_KEY must be at least 32 characters (got %d)", len(cfg.TokenSigningKey)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: DOCSTORE_URL
	cfg.DocstoreURL = os.Getenv("DOCSTORE_URL")
	if cfg.DocstoreURL == "" {
		errors = append(errors, "DOCSTORE_URL is required")
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.CorsOrigin = getEnvOrDefault("CORS_ORIGIN", "http://localhost:3000")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	// AUTH0_DOMAIN/AUTH0_AUDIENCE are validated in cmd/hub, not here: they
	// are only required when SKIP_AUTH isn't set, and that decision belongs
	// to the entrypoint wiring the validator, not to shared env validation.
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.AuthDomain = os.Getenv("AUTH0_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH0_AUDIENCE")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Room actor timing overrides, per the Environment Contract. Reference
	// values match the concurrency model's defaults; malformed overrides
	// fall back to the default rather than failing startup.
	cfg.DebouncePeriod = durationFromMsEnv("DEBOUNCE_MS", 1*time.Second)
	cfg.MaxStaleness = durationFromMsEnv("MAX_STALENESS_MS", 30*time.Second)
	cfg.IdleGracePeriod = durationFromMsEnv("IDLE_GRACE_MS", 5*time.Minute)

	cfg.CapacityDefault = 20
	if v := os.Getenv("CAPACITY_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.CapacityDefault = n
		} else {
			errors = append(errors, fmt.Sprintf("CAPACITY_DEFAULT must be a positive integer (got '%s')", v))
		}
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "20-M")
	cfg.RateLimitApiMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// durationFromMsEnv reads an integer-millisecond env var, falling back to
// def if unset or malformed.
func durationFromMsEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		slog.Warn("invalid duration override, using default", "key", key, "value", v)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"token_signing_key", redactSecret(cfg.TokenSigningKey),
		"port", cfg.Port,
		"docstore_url", redactSecret(cfg.DocstoreURL),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"debounce", cfg.DebouncePeriod,
		"max_staleness", cfg.MaxStaleness,
		"idle_grace_period", cfg.IdleGracePeriod,
		"capacity_default", cfg.CapacityDefault,
		"rate_limit_api_global", cfg.RateLimitApiGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
