// Package config holds the daemon's environment-driven settings and the
// optional YAML policy file for cost tiers.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vantage-sec/gatehouse/pkg/abuse"
)

// Config holds global settings for the admission daemon.
// All settings can be configured via environment variables or programmatically
type Config struct {
	// === Core Settings ===
	ListenAddr   string // HTTP listen address (default: ":8080")
	AuditLogPath string // Path to audit log file (default: "audit_events.jsonl")
	PolicyPath   string // Optional YAML file overriding the tier table

	// === Audit ===
	AuditPostgresDSN string // When set, incidents go to Postgres instead of the JSONL file
	AuditCapacity    int    // Max in-flight async audit writes (default: 100)

	// === Rate Limiter ===
	RedisAddr          string // When set, the shared Redis limiter is used instead of in-memory
	RedisPassword      string
	RedisDB            int
	LimiterMaxRequests int           // Coarse AI-request quota per user per window (default: 100)
	LimiterWindow      time.Duration // Sliding window length (default: 1m)
	LimiterFailClosed  bool          // Deny requests when the limiter errors (default: false, fail-open)

	// === Input Limits ===
	MaxInputLength int // Structural size ceiling in characters (default: 50000)

	// === Housekeeping ===
	SweepInterval time.Duration // Ledger sweep period (default: 10m)
}

// NewDefaultConfig creates a Config with sensible defaults
// All settings can be overridden via environment variables
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:   GetEnv("GATEHOUSE_LISTEN_ADDR", ":8080"),
		AuditLogPath: GetEnv("GATEHOUSE_AUDIT_LOG", "audit_events.jsonl"),
		PolicyPath:   GetEnv("GATEHOUSE_POLICY_FILE", ""),

		AuditPostgresDSN: GetEnv("GATEHOUSE_AUDIT_POSTGRES_DSN", ""),
		AuditCapacity:    GetEnvInt("GATEHOUSE_AUDIT_CAPACITY", 100),

		RedisAddr:          GetEnv("GATEHOUSE_REDIS_ADDR", ""),
		RedisPassword:      GetEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		RedisDB:            GetEnvInt("GATEHOUSE_REDIS_DB", 0),
		LimiterMaxRequests: GetEnvInt("GATEHOUSE_LIMITER_MAX_REQUESTS", 100),
		LimiterWindow:      time.Duration(GetEnvInt("GATEHOUSE_LIMITER_WINDOW_SECONDS", 60)) * time.Second,
		LimiterFailClosed:  GetEnvBool("GATEHOUSE_LIMITER_FAIL_CLOSED", false),

		MaxInputLength: GetEnvInt("GATEHOUSE_MAX_INPUT_LENGTH", 50_000),

		SweepInterval: time.Duration(GetEnvInt("GATEHOUSE_SWEEP_INTERVAL_SECONDS", 600)) * time.Second,
	}
}

// NewHighSecurityConfig creates a Config for maximum strictness (may reject
// more borderline traffic).
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LimiterFailClosed = true // deny when the limiter is unreachable
	cfg.LimiterMaxRequests = 30
	cfg.MaxInputLength = 20_000
	return cfg
}

// NewHighUsabilityConfig creates a Config that minimizes false rejections.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LimiterFailClosed = false
	cfg.LimiterMaxRequests = 300
	cfg.MaxInputLength = 100_000
	return cfg
}

// LoadPolicy reads the YAML tier table at path. Unset fields inherit the
// built-in defaults; an empty path returns the defaults unchanged.
func LoadPolicy(path string) (*abuse.Policy, error) {
	if path == "" {
		return abuse.DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy file: %w", err)
	}

	var file struct {
		Tiers abuse.Policy `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse policy file %s: %w", path, err)
	}

	policy := file.Tiers
	policy.Normalize()
	return &policy, nil
}

// Helper functions for environment variable parsing
// These are exported for use by other packages

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// Validate checks that the configuration is internally consistent. In
// production mode (GATEHOUSE_ENV=production) it also requires the settings a
// shared deployment cannot safely run without.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxInputLength <= 0 {
		problems = append(problems, "GATEHOUSE_MAX_INPUT_LENGTH must be positive")
	}
	if c.LimiterMaxRequests <= 0 {
		problems = append(problems, "GATEHOUSE_LIMITER_MAX_REQUESTS must be positive")
	}
	if c.LimiterWindow <= 0 {
		problems = append(problems, "GATEHOUSE_LIMITER_WINDOW_SECONDS must be positive")
	}
	if c.SweepInterval <= 0 {
		problems = append(problems, "GATEHOUSE_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.AuditCapacity <= 0 {
		problems = append(problems, "GATEHOUSE_AUDIT_CAPACITY must be positive")
	}

	if isProduction() {
		if c.RedisAddr == "" {
			log.Printf("[STARTUP] Warning: GATEHOUSE_REDIS_ADDR not set in production; quota is per-instance only")
		}
		if c.AuditPostgresDSN == "" && c.AuditLogPath == "" {
			problems = append(problems, "an audit sink is required in production (GATEHOUSE_AUDIT_LOG or GATEHOUSE_AUDIT_POSTGRES_DSN)")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

func isProduction() bool {
	env := strings.ToLower(os.Getenv("GATEHOUSE_ENV"))
	return env == "production" || env == "prod"
}
