package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"http_addr":             "www.example:9000",
		"grpc_addr":             ":9001",
		"database_dsn":          "clinic.db",
		"secret_key":            "my_secret_key",
		"session_ttl":           "20m",
		"lockout_threshold":     3,
		"lockout_period":        "10m",
		"login_rate_per_minute": 30,
		"login_burst":           5,
		"admin_invite_code":     "code",
		"s3_bucket":             "bucket",
		"s3_region":             "region",
		"s3_base_endpoint":      "base_endpoint",
		"predictor_url":         "http://predictor",
		"trusted_proxies":       []string{"10.0.0.0/8"},
		"log_level":             "warn",
	})

	t.Run("loads from json", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, parseJson(cfg, []string{"-config", path}))

		assert.Equal(t, "www.example:9000", cfg.HTTPAddr)
		assert.Equal(t, ":9001", cfg.GRPCAddr)
		assert.Equal(t, "clinic.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 20*time.Minute, cfg.SessionTTL)
		assert.Equal(t, 3, cfg.LockoutThreshold)
		assert.Equal(t, 10*time.Minute, cfg.LockoutPeriod)
		assert.Equal(t, 30, cfg.LoginRatePerMinute)
		assert.Equal(t, 5, cfg.LoginBurst)
		assert.Equal(t, "code", cfg.AdminInviteCode)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, "http://predictor", cfg.PredictorURL)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	})

	t.Run("no config flag leaves values", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		want := *cfg
		require.NoError(t, parseJson(cfg, []string{"-a", ":1"}))
		assert.Equal(t, want, *cfg)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{"http_addr": ":1234"})
		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseJson(cfg, []string{"-c", partial}))
		assert.Equal(t, ":1234", cfg.HTTPAddr)
		assert.Equal(t, 5, cfg.LockoutThreshold)
		assert.Equal(t, 900*time.Second, cfg.LockoutPeriod)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		require.Error(t, parseJson(&Config{}, []string{"-config", bad}))
	})

	t.Run("missing file", func(t *testing.T) {
		require.Error(t, parseJson(&Config{}, []string{"-c", filepath.Join(dir, "absent.json")}))
	})
}
