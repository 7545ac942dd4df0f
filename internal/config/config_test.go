package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory with no config file
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SCANSTREAM_CONFIG", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data/scanstream.db", cfg.DBPath)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 2*time.Minute, cfg.ScanTimeout)
	assert.Equal(t, 3, cfg.WebhookMaxAttempts)
	assert.Empty(t, cfg.S3Endpoint)
	assert.Empty(t, cfg.OTelEndpoint)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	file := `
port = 9000
db_path = "/var/lib/scanstream.db"
scan_timeout = "45s"
custom_rules_path = "rules.yaml"
s3_endpoint = "minio:9000"
reports_bucket = "a11y"
log_level = "debug"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(file), 0o644))
	t.Setenv("SCANSTREAM_PORT", "9100")
	t.Setenv("SCANSTREAM_S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "env overrides file")
	assert.Equal(t, "/var/lib/scanstream.db", cfg.DBPath)
	assert.Equal(t, 45*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "rules.yaml", cfg.CustomRulesPath)
	assert.Equal(t, "minio:9000", cfg.S3Endpoint)
	assert.Equal(t, "a11y", cfg.ReportsBucket)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadExplicitConfigPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`retention_days = 7`), 0o644))
	t.Setenv("SCANSTREAM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RetentionDays)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		env   map[string]string
		match string
	}{
		{"malformed file", "port = ", nil, "failed to decode config file"},
		{"missing explicit file", "", map[string]string{"SCANSTREAM_CONFIG": "/nonexistent/scanstream.toml"}, "/nonexistent/scanstream.toml"},
		{"port out of range", "", map[string]string{"SCANSTREAM_PORT": "70000"}, "invalid port"},
		{"zero attempts", "webhook_max_attempts = 0", nil, "webhook max attempts"},
		{"bucket required", `s3_endpoint = "minio:9000"` + "\n" + `reports_bucket = ""`, nil, "reports bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.file != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(tt.file), 0o644))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.match)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal int
		want       int
	}{
		{"empty env", "", 42, 42},
		{"valid int", "123", 42, 123},
		{"invalid int", "not-a-number", 42, 42},
		{"negative int", "-5", 42, -5},
		{"zero", "0", 42, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			assert.Equal(t, tt.want, getEnvInt("TEST_INT", tt.defaultVal))
		})
	}
}

func TestGetEnvDurationAndBool(t *testing.T) {
	t.Setenv("TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_BOOL", "1")
	assert.True(t, getEnvBool("TEST_BOOL", false))

	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, getEnvBool("TEST_BOOL", true))
}
