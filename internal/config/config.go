package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is read when SCANSTREAM_CONFIG is not set
const DefaultConfigFile = "scanstream.toml"

// Config holds all application configuration
type Config struct {
	Port          int    `toml:"port"`
	BindAddress   string `toml:"bind_address"`
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`

	// Scanning
	ScanTimeout     time.Duration `toml:"scan_timeout"`
	UserAgent       string        `toml:"user_agent"`
	CustomRulesPath string        `toml:"custom_rules_path"`

	// Webhooks
	WebhookTimeout     time.Duration `toml:"webhook_timeout"`
	WebhookMaxAttempts int           `toml:"webhook_max_attempts"`
	WebhookConcurrency int           `toml:"webhook_concurrency"`

	// Report archive, disabled unless S3Endpoint is set
	S3Endpoint    string `toml:"s3_endpoint"`
	S3AccessKey   string `toml:"s3_access_key"`
	S3SecretKey   string `toml:"s3_secret_key"`
	S3UseSSL      bool   `toml:"s3_use_ssl"`
	ReportsBucket string `toml:"reports_bucket"`

	// Tracing, disabled unless OTelEndpoint is set
	OTelEndpoint string `toml:"otel_endpoint"`
	OTelInsecure bool   `toml:"otel_insecure"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

func defaultConfig() *Config {
	return &Config{
		Port:               8080,
		BindAddress:        "",
		DBPath:             "./data/scanstream.db",
		RetentionDays:      30,
		ScanTimeout:        2 * time.Minute,
		UserAgent:          "scanstream/1.0",
		WebhookTimeout:     10 * time.Second,
		WebhookMaxAttempts: 3,
		WebhookConcurrency: 4,
		ReportsBucket:      "scanstream-reports",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load reads defaults, then the config file if present, then environment
// variables
func Load() (*Config, error) {
	cfg := defaultConfig()

	path := os.Getenv("SCANSTREAM_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg.Port = getEnvInt("SCANSTREAM_PORT", cfg.Port)
	cfg.BindAddress = getEnv("SCANSTREAM_BIND_ADDRESS", cfg.BindAddress)
	cfg.DBPath = getEnv("SCANSTREAM_DB_PATH", cfg.DBPath)
	cfg.RetentionDays = getEnvInt("SCANSTREAM_RETENTION_DAYS", cfg.RetentionDays)

	cfg.ScanTimeout = getEnvDuration("SCANSTREAM_SCAN_TIMEOUT", cfg.ScanTimeout)
	cfg.UserAgent = getEnv("SCANSTREAM_USER_AGENT", cfg.UserAgent)
	cfg.CustomRulesPath = getEnv("SCANSTREAM_CUSTOM_RULES", cfg.CustomRulesPath)

	cfg.WebhookTimeout = getEnvDuration("SCANSTREAM_WEBHOOK_TIMEOUT", cfg.WebhookTimeout)
	cfg.WebhookMaxAttempts = getEnvInt("SCANSTREAM_WEBHOOK_MAX_ATTEMPTS", cfg.WebhookMaxAttempts)
	cfg.WebhookConcurrency = getEnvInt("SCANSTREAM_WEBHOOK_CONCURRENCY", cfg.WebhookConcurrency)

	cfg.S3Endpoint = getEnv("SCANSTREAM_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKey = getEnv("SCANSTREAM_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("SCANSTREAM_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UseSSL = getEnvBool("SCANSTREAM_S3_USE_SSL", cfg.S3UseSSL)
	cfg.ReportsBucket = getEnv("SCANSTREAM_REPORTS_BUCKET", cfg.ReportsBucket)

	cfg.OTelEndpoint = getEnv("SCANSTREAM_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelInsecure = getEnvBool("SCANSTREAM_OTEL_INSECURE", cfg.OTelInsecure)

	cfg.LogLevel = getEnv("SCANSTREAM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("SCANSTREAM_LOG_FORMAT", cfg.LogFormat)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("webhook max attempts must be at least 1")
	}
	if c.S3Endpoint != "" && c.ReportsBucket == "" {
		return fmt.Errorf("reports bucket is required when an S3 endpoint is set")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
