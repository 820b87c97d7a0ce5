package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/flagx"
	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvHTTPAddr           = "CLINIC_HTTP_ADDR"
	EnvGRPCAddr           = "CLINIC_GRPC_ADDR"
	EnvDatabaseDSN        = "CLINIC_DATABASE_DSN"
	EnvSecretKey          = "CLINIC_SECRET_KEY"
	EnvSessionTTL         = "CLINIC_SESSION_TTL"
	EnvLockoutThreshold   = "CLINIC_LOCKOUT_THRESHOLD"
	EnvLockoutPeriod      = "CLINIC_LOCKOUT_PERIOD"
	EnvLoginRatePerMinute = "CLINIC_LOGIN_RATE_PER_MINUTE"
	EnvLoginBurst         = "CLINIC_LOGIN_BURST"
	EnvAdminInviteCode    = "CLINIC_ADMIN_INVITE_CODE"
	EnvFieldKey           = "CLINIC_FIELD_KEY"
	EnvS3AccessKey        = "CLINIC_S3_ACCESS_KEY"
	EnvS3SecretKey        = "CLINIC_S3_SECRET_KEY"
	EnvS3Bucket           = "CLINIC_S3_BUCKET"
	EnvS3Region           = "CLINIC_S3_REGION"
	EnvS3BaseEndpoint     = "CLINIC_S3_BASE_ENDPOINT"
	EnvPredictorURL       = "CLINIC_PREDICTOR_URL"
	EnvTrustedProxies     = "CLINIC_TRUSTED_PROXIES"
	EnvLogLevel           = "CLINIC_LOG_LEVEL"
)

const defaultEnvFile = ".env"

// loadDotEnv loads variables from the -envfile path, or ./.env when the flag
// is absent. Variables already present in the environment are not overridden.
// A missing default file is not an error; a missing explicit file is.
func loadDotEnv(args []string) error {
	path := flagx.EnvFilePath(args)
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// parseEnv overlays values from the process environment.
func parseEnv(config *Config) error {
	lookupString(EnvHTTPAddr, &config.HTTPAddr)
	lookupString(EnvGRPCAddr, &config.GRPCAddr)
	lookupString(EnvDatabaseDSN, &config.DatabaseDSN)
	lookupString(EnvSecretKey, &config.SecretKey)
	lookupString(EnvAdminInviteCode, &config.AdminInviteCode)
	lookupString(EnvFieldKey, &config.FieldKey)
	lookupString(EnvS3AccessKey, &config.S3AccessKey)
	lookupString(EnvS3SecretKey, &config.S3SecretKey)
	lookupString(EnvS3Bucket, &config.S3Bucket)
	lookupString(EnvS3Region, &config.S3Region)
	lookupString(EnvS3BaseEndpoint, &config.S3BaseEndpoint)
	lookupString(EnvPredictorURL, &config.PredictorURL)
	lookupString(EnvLogLevel, &config.LogLevel)
	lookupList(EnvTrustedProxies, &config.TrustedProxies)

	if err := lookupDuration(EnvSessionTTL, &config.SessionTTL); err != nil {
		return err
	}
	if err := lookupDuration(EnvLockoutPeriod, &config.LockoutPeriod); err != nil {
		return err
	}
	if err := lookupInt(EnvLockoutThreshold, &config.LockoutThreshold); err != nil {
		return err
	}
	if err := lookupInt(EnvLoginRatePerMinute, &config.LoginRatePerMinute); err != nil {
		return err
	}
	return lookupInt(EnvLoginBurst, &config.LoginBurst)
}

func lookupString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

// lookupList splits a comma-separated variable, dropping empty items.
func lookupList(name string, dst *[]string) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func lookupInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

// lookupDuration accepts Go duration strings and plain integers meaning seconds.
func lookupDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
