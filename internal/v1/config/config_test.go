package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	// Save original env vars
	origVars := map[string]string{
		"TOKEN_SIGNING_KEY": os.Getenv("TOKEN_SIGNING_KEY"),
		"PORT":              os.Getenv("PORT"),
		"DOCSTORE_URL":      os.Getenv("DOCSTORE_URL"),
		"REDIS_ENABLED":     os.Getenv("REDIS_ENABLED"),
		"REDIS_ADDR":        os.Getenv("REDIS_ADDR"),
		"GO_ENV":            os.Getenv("GO_ENV"),
		"LOG_LEVEL":         os.Getenv("LOG_LEVEL"),
		"DEBOUNCE_MS":       os.Getenv("DEBOUNCE_MS"),
		"CAPACITY_DEFAULT":  os.Getenv("CAPACITY_DEFAULT"),
	}

	for key := range origVars {
		os.Unsetenv(key)
	}

	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub?sslmode=disable")
	os.Setenv("REDIS_ENABLED", "false")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.TokenSigningKey != "this-is-a-very-long-secret-key-for-testing-purposes" {
		t.Errorf("Expected TOKEN_SIGNING_KEY to be set correctly")
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.DocstoreURL != "postgres://localhost/hub?sslmode=disable" {
		t.Errorf("Expected DOCSTORE_URL to be set correctly, got '%s'", cfg.DocstoreURL)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingTokenSigningKey(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing TOKEN_SIGNING_KEY, got nil")
	}
	if !strings.Contains(err.Error(), "TOKEN_SIGNING_KEY is required") {
		t.Errorf("Expected error message about TOKEN_SIGNING_KEY, got: %v", err)
	}
}

func TestValidateEnv_ShortTokenSigningKey(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "short")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for short TOKEN_SIGNING_KEY, got nil")
	}
	if !strings.Contains(err.Error(), "must be at least 32 characters") {
		t.Errorf("Expected error message about TOKEN_SIGNING_KEY length, got: %v", err)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("Expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "99999")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_MissingDocstoreURL(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing DOCSTORE_URL, got nil")
	}
	if !strings.Contains(err.Error(), "DOCSTORE_URL is required") {
		t.Errorf("Expected error message about DOCSTORE_URL, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.CapacityDefault != 20 {
		t.Errorf("Expected CAPACITY_DEFAULT to default to 20, got %d", cfg.CapacityDefault)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")
	os.Setenv("REDIS_ENABLED", "true")
	// Don't set REDIS_ADDR

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_CapacityOverride(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TOKEN_SIGNING_KEY", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DOCSTORE_URL", "postgres://localhost/hub")
	os.Setenv("CAPACITY_DEFAULT", "5")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.CapacityDefault != 5 {
		t.Errorf("Expected CAPACITY_DEFAULT to be 5, got %d", cfg.CapacityDefault)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
