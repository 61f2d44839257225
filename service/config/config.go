package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost            string
	TemporalNamespace       string
	TemporalTaskQueue       string
	MaxConcurrentActivities int

	// Workspace configuration. ProviderURL and WalletPath may be empty, in
	// which case the workspace Anchor.toml [provider] table is used.
	WorkspaceDir string
	Program      string
	Instruction  string
	ProviderURL  string
	WalletPath   string
	Commitment   string

	// Smoke check configuration
	ConfirmTimeout   time.Duration
	SmokeInterval    time.Duration
	MinSmokeInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "hip-smoke-checks")

	concurrency, err := parseInt("TEMPORAL_MAX_CONCURRENT_ACTIVITIES", 10)
	if err != nil {
		errs = append(errs, err)
	} else if concurrency < 1 {
		errs = append(errs, fmt.Errorf("TEMPORAL_MAX_CONCURRENT_ACTIVITIES must be at least 1, got %d", concurrency))
	} else {
		cfg.MaxConcurrentActivities = concurrency
	}

	// Workspace configuration
	cfg.WorkspaceDir = getEnvOrDefault("HIP_WORKSPACE", ".")
	cfg.Program = getEnvOrDefault("HIP_PROGRAM", "Hip")
	cfg.Instruction = getEnvOrDefault("HIP_INSTRUCTION", "initialize")
	cfg.ProviderURL = os.Getenv("ANCHOR_PROVIDER_URL")
	cfg.WalletPath = os.Getenv("ANCHOR_WALLET")
	cfg.Commitment = strings.ToLower(getEnvOrDefault("ANCHOR_COMMITMENT", "confirmed"))
	if !validCommitment(cfg.Commitment) {
		errs = append(errs, fmt.Errorf("ANCHOR_COMMITMENT must be processed, confirmed or finalized, got %q", cfg.Commitment))
	}

	// Smoke check configuration
	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else if confirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRM_TIMEOUT must be positive, got %v", confirmTimeout))
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	interval, err := parseDuration("SMOKE_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SmokeInterval = interval
	}

	minInterval, err := parseDuration("MIN_SMOKE_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinSmokeInterval = minInterval
	}

	if cfg.MinSmokeInterval > cfg.SmokeInterval {
		errs = append(errs, fmt.Errorf("MIN_SMOKE_INTERVAL (%v) cannot be greater than SMOKE_INTERVAL (%v)",
			cfg.MinSmokeInterval, cfg.SmokeInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks a Config built in code rather than loaded from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.Program == "" {
		errs = append(errs, fmt.Errorf("Program is required"))
	}

	if c.Instruction == "" {
		errs = append(errs, fmt.Errorf("Instruction is required"))
	}

	if !validCommitment(c.Commitment) {
		errs = append(errs, fmt.Errorf("Commitment %q is invalid", c.Commitment))
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}

	if c.MinSmokeInterval > c.SmokeInterval {
		errs = append(errs, fmt.Errorf("MinSmokeInterval cannot be greater than SmokeInterval"))
	}

	if c.SmokeInterval < time.Second {
		errs = append(errs, fmt.Errorf("SmokeInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validCommitment(c string) bool {
	switch c {
	case "processed", "confirmed", "finalized":
		return true
	}
	return false
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
