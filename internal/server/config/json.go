package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/clinicguard/internal/flagx"
	"github.com/dmitrijs2005/clinicguard/internal/timex"
)

// JsonConfig is the JSON file layout. Duration fields accept "15m" strings
// or integer nanoseconds via timex.Duration. Only non-zero values override.
type JsonConfig struct {
	HTTPAddr           string         `json:"http_addr"`
	GRPCAddr           string         `json:"grpc_addr"`
	DatabaseDSN        string         `json:"database_dsn"`
	SecretKey          string         `json:"secret_key"`
	SessionTTL         timex.Duration `json:"session_ttl"`
	LockoutThreshold   int            `json:"lockout_threshold"`
	LockoutPeriod      timex.Duration `json:"lockout_period"`
	LoginRatePerMinute int            `json:"login_rate_per_minute"`
	LoginBurst         int            `json:"login_burst"`
	AdminInviteCode    string         `json:"admin_invite_code"`
	S3AccessKey        string         `json:"s3_access_key"`
	S3SecretKey        string         `json:"s3_secret_key"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	PredictorURL       string         `json:"predictor_url"`
	TrustedProxies     []string       `json:"trusted_proxies"`
	LogLevel           string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config, if any.
// The field encryption key is deliberately not read from JSON.
func parseJson(config *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AdminInviteCode, c.AdminInviteCode)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.PredictorURL, c.PredictorURL)
	setString(&config.LogLevel, c.LogLevel)

	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}
	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.LockoutPeriod.Duration > 0 {
		config.LockoutPeriod = c.LockoutPeriod.Duration
	}
	if c.LockoutThreshold > 0 {
		config.LockoutThreshold = c.LockoutThreshold
	}
	if c.LoginRatePerMinute > 0 {
		config.LoginRatePerMinute = c.LoginRatePerMinute
	}
	if c.LoginBurst > 0 {
		config.LoginBurst = c.LoginBurst
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
